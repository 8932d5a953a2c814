package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
	"github.com/stagehand-dev/stagehand/internal/infra/scratchpad"
)

// ReconcileReport cross-references ledger entries against the artifact
// directory on disk
type ReconcileReport struct {
	// MissingArtifact lists ledger item IDs with no artifact file
	MissingArtifact []string
	// Untracked lists artifact file names with no ledger entry
	Untracked []string
	// Consistent lists item IDs present on both sides
	Consistent []string
	// StatusCounts always carries all seven statuses
	StatusCounts map[workitem.Status]int
}

// Reconcile scans the artifact directory and cross-references it against
// ledger entries. Nothing is modified; drift is only reported.
func (l *Ledger) Reconcile(ctx context.Context, fs afero.Fs, artifactsDir string) (*ReconcileReport, error) {
	records, err := l.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger entries: %w", err)
	}

	counts, err := l.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}

	// Artifact base names (without extension) found on disk
	onDisk := make(map[string]string) // base name -> file name
	if exists, _ := afero.DirExists(fs, artifactsDir); exists {
		infos, err := afero.ReadDir(fs, artifactsDir)
		if err != nil {
			return nil, fmt.Errorf("scan artifact directory: %w", err)
		}
		for _, info := range infos {
			if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
				continue
			}
			base := strings.TrimSuffix(info.Name(), filepath.Ext(info.Name()))
			onDisk[base] = info.Name()
		}
	}

	report := &ReconcileReport{StatusCounts: counts}
	tracked := make(map[string]bool)

	for _, rec := range records {
		slug := scratchpad.CacheSlug(rec.ItemID)
		if _, ok := onDisk[slug]; ok {
			tracked[slug] = true
			report.Consistent = append(report.Consistent, rec.ItemID)
			continue
		}
		report.MissingArtifact = append(report.MissingArtifact, rec.ItemID)
	}

	for base, name := range onDisk {
		if !tracked[base] {
			report.Untracked = append(report.Untracked, name)
		}
	}

	sort.Strings(report.MissingArtifact)
	sort.Strings(report.Untracked)
	sort.Strings(report.Consistent)

	return report, nil
}

// ArtifactName returns the canonical artifact file name for a work item
func ArtifactName(itemID string) string {
	return scratchpad.CacheSlug(itemID) + ".md"
}
