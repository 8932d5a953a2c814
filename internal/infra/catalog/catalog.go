package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Entry is one cross-referenceable piece of prior content
type Entry struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Tags    []string `yaml:"tags"`
	Summary string   `yaml:"summary"`
}

// Catalog is the optional read-only cross-reference catalog. When the
// catalog file is absent the pipeline proceeds without cross-referencing;
// absence is degraded mode, never an error.
type Catalog struct {
	entries   []Entry
	available bool
}

type catalogFile struct {
	Entries []Entry `yaml:"entries"`
}

// Load reads the catalog file. A missing file yields an unavailable (but
// usable) catalog; a present-but-corrupt file is an error because it means
// the operator intended cross-referencing and something is wrong.
func Load(fs afero.Fs, path string) (*Catalog, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("check catalog file: %w", err)
	}
	if !exists {
		return &Catalog{available: false}, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}

	return &Catalog{entries: cf.Entries, available: true}, nil
}

// Available reports whether a catalog file was loaded
func (c *Catalog) Available() bool {
	return c.available
}

// Len returns the number of entries
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Lookup returns entries whose id, title or tags match any of the terms,
// ordered by ID for stable output. ID and title match by case-insensitive
// substring, tags exactly.
func (c *Catalog) Lookup(terms []string) []Entry {
	if !c.available || len(terms) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var matches []Entry
	for _, e := range c.entries {
		if seen[e.ID] {
			continue
		}
		for _, term := range terms {
			if matchEntry(e, term) {
				matches = append(matches, e)
				seen[e.ID] = true
				break
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches
}

func matchEntry(e Entry, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}
	if strings.Contains(strings.ToLower(e.ID), term) {
		return true
	}
	if strings.Contains(strings.ToLower(e.Title), term) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.EqualFold(tag, term) {
			return true
		}
	}
	return false
}
