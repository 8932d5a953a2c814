package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePathsIn(t *testing.T) {
	p := ResolvePathsIn("/srv/stagehand")

	assert.Equal(t, "/srv/stagehand", p.Home)
	assert.Equal(t, filepath.Join("/srv/stagehand", "cache"), p.Cache)
	assert.Equal(t, filepath.Join("/srv/stagehand", "artifacts"), p.Artifacts)
	assert.Equal(t, filepath.Join("/srv/stagehand", "var", "ledger.db"), p.LedgerDB)
	assert.Equal(t, filepath.Join("/srv/stagehand", "var", "health.json"), p.Health)
	assert.Equal(t, filepath.Join("/srv/stagehand", "etc", "catalog.yaml"), p.Catalog)
	assert.Equal(t, filepath.Join("/srv/stagehand", "setting.json"), p.Setting)
}

func TestResolvePaths_EnvOverride(t *testing.T) {
	t.Setenv("STAGEHAND_HOME", "/tmp/sh-home")
	assert.Equal(t, "/tmp/sh-home", ResolvePaths().Home)

	t.Setenv("STAGEHAND_HOME", "")
	assert.Equal(t, ".stagehand", ResolvePaths().Home)
}
