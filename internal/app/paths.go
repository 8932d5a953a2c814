package app

import (
	"os"
	"path/filepath"
)

// Paths holds all resolved paths under the stagehand home directory
type Paths struct {
	Home      string // .stagehand directory
	Etc       string // .stagehand/etc
	Cache     string // .stagehand/cache (scratch pads, one dir per work item)
	Artifacts string // .stagehand/artifacts (one finished artifact per DONE item)
	Var       string // .stagehand/var

	// Key files
	Setting  string // .stagehand/setting.json
	LedgerDB string // .stagehand/var/ledger.db
	Health   string // .stagehand/var/health.json
	Catalog  string // .stagehand/etc/catalog.yaml
}

// ResolvePaths returns all paths based on the STAGEHAND_HOME environment variable
func ResolvePaths() Paths {
	home := os.Getenv("STAGEHAND_HOME")
	if home == "" {
		home = ".stagehand"
	}
	return ResolvePathsIn(home)
}

// ResolvePathsIn builds the path set rooted at an explicit home directory
func ResolvePathsIn(home string) Paths {
	p := Paths{
		Home:      home,
		Etc:       filepath.Join(home, "etc"),
		Cache:     filepath.Join(home, "cache"),
		Artifacts: filepath.Join(home, "artifacts"),
		Var:       filepath.Join(home, "var"),
	}

	p.Setting = filepath.Join(home, "setting.json")
	p.LedgerDB = filepath.Join(p.Var, "ledger.db")
	p.Health = filepath.Join(p.Var, "health.json")
	p.Catalog = filepath.Join(p.Etc, "catalog.yaml")

	return p
}
