package scratchpad

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
	infrafs "github.com/stagehand-dev/stagehand/internal/infra/fs"
)

// ScratchPad is the durable per-work-item cache of completed stage outputs.
// Layout: <root>/<slug>/<STAGE>.yaml, one immutable file per StageResult.
// This is the single source of truth for resume: the sequencer reloads the
// entry before its first stage decision, and a present file means the stage
// is never re-invoked.
type ScratchPad struct {
	fs   afero.Fs
	root string
}

// Entry is the loaded cache state for one work item
type Entry struct {
	ItemID    string
	Results   map[workitem.Stage]workitem.StageResult
	UpdatedAt time.Time
}

// Stages returns the cached stages in pipeline order
func (e *Entry) Stages() []workitem.Stage {
	var out []workitem.Stage
	for _, s := range workitem.Sequence() {
		if _, ok := e.Results[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// New creates a scratch pad rooted at root
func New(fs afero.Fs, root string) *ScratchPad {
	return &ScratchPad{fs: fs, root: root}
}

// CacheKey derives the cache key for (item, stage). Purely a function of
// the stable identity, never of invocation time.
func (p *ScratchPad) CacheKey(itemID string, stage workitem.Stage) string {
	return CacheSlug(itemID) + "/" + stage.String()
}

// entryDir returns the on-disk directory for an item, refusing anything
// that would escape the cache root
func (p *ScratchPad) entryDir(itemID string) (string, error) {
	slug := CacheSlug(itemID)
	dir := filepath.Clean(filepath.Join(p.root, slug))
	if !strings.HasPrefix(dir, filepath.Clean(p.root)+string(filepath.Separator)) {
		return "", fmt.Errorf("cache path for %q escapes cache root", itemID)
	}
	return dir, nil
}

func (p *ScratchPad) resultPath(itemID string, stage workitem.Stage) (string, error) {
	dir, err := p.entryDir(itemID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, stage.String()+".yaml"), nil
}

// Get returns the cached StageResult for (item, stage), or false on a miss
func (p *ScratchPad) Get(itemID string, stage workitem.Stage) (workitem.StageResult, bool, error) {
	path, err := p.resultPath(itemID, stage)
	if err != nil {
		return workitem.StageResult{}, false, err
	}

	exists, err := afero.Exists(p.fs, path)
	if err != nil || !exists {
		return workitem.StageResult{}, false, err
	}

	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return workitem.StageResult{}, false, fmt.Errorf("read cached result %s: %w", path, err)
	}

	var result workitem.StageResult
	if err := yaml.Unmarshal(data, &result); err != nil {
		// A corrupt cache file is treated as a miss; the stage re-runs and
		// the entry is rewritten
		return workitem.StageResult{}, false, nil
	}

	return result, true, nil
}

// Put persists a completed StageResult. Results are immutable once written;
// a retry that produces a new result for the same stage overwrites the slot
// atomically as a whole.
func (p *ScratchPad) Put(itemID string, result workitem.StageResult) error {
	path, err := p.resultPath(itemID, result.Stage)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(&result)
	if err != nil {
		return fmt.Errorf("marshal stage result: %w", err)
	}

	if err := infrafs.WriteFileAtomic(p.fs, path, data); err != nil {
		return fmt.Errorf("persist stage result: %w", err)
	}
	return nil
}

// Invalidate removes the cached result for a single stage. Used when a gate
// rejects a cached output and the stage must regenerate.
func (p *ScratchPad) Invalidate(itemID string, stage workitem.Stage) error {
	path, err := p.resultPath(itemID, stage)
	if err != nil {
		return err
	}
	if err := p.fs.Remove(path); err != nil {
		if exists, _ := afero.Exists(p.fs, path); !exists {
			return nil
		}
		return fmt.Errorf("invalidate cached result: %w", err)
	}
	return nil
}

// LoadOrCreate loads the existing on-disk entry for a work item, creating
// an empty one when the item has never run. Must be called before the first
// stage decision.
func (p *ScratchPad) LoadOrCreate(itemID string) (*Entry, error) {
	dir, err := p.entryDir(itemID)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		ItemID:  itemID,
		Results: make(map[workitem.Stage]workitem.StageResult),
	}

	exists, err := afero.DirExists(p.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("check cache entry: %w", err)
	}
	if !exists {
		if err := p.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache entry: %w", err)
		}
		return entry, nil
	}

	for _, stage := range workitem.Sequence() {
		result, ok, err := p.Get(itemID, stage)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		entry.Results[stage] = result
		if result.Timestamp.After(entry.UpdatedAt) {
			entry.UpdatedAt = result.Timestamp
		}
	}

	return entry, nil
}

// ListEntries returns the slugs present under the cache root, sorted
func (p *ScratchPad) ListEntries() ([]string, error) {
	exists, err := afero.DirExists(p.fs, p.root)
	if err != nil || !exists {
		return nil, err
	}

	infos, err := afero.ReadDir(p.fs, p.root)
	if err != nil {
		return nil, fmt.Errorf("list cache root: %w", err)
	}

	var slugs []string
	for _, info := range infos {
		if info.IsDir() {
			slugs = append(slugs, info.Name())
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}
