package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.ConfigSource())
	assert.Equal(t, "", cfg.SettingPath())
	assert.Equal(t, "skill", cfg.SkillBin())
	assert.Equal(t, 3, cfg.AttemptCap())
	assert.Equal(t, 7.0, cfg.GradeThreshold())
	assert.Equal(t, 10*time.Second, cfg.TransientThreshold())
	assert.Equal(t, 120*time.Second, cfg.DefaultTimeout())
	assert.Equal(t, 60*time.Minute, cfg.StaleTTL())
	assert.Equal(t, "info", cfg.StderrLevel())
}

func TestLoadSettings_FromJSON(t *testing.T) {
	dir := t.TempDir()
	settingJSON := `{
		"skill_bin": "/usr/local/bin/forge-skill",
		"attempt_cap": 5,
		"grade_threshold": 8.5,
		"transient_threshold_sec": 4,
		"stage_timeout_sec": {"TRANSFORM": 1200},
		"stderr_level": "debug"
	}`
	path := filepath.Join(dir, "setting.json")
	require.NoError(t, os.WriteFile(path, []byte(settingJSON), 0644))

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.ConfigSource())
	assert.Equal(t, path, cfg.SettingPath())
	assert.Equal(t, "/usr/local/bin/forge-skill", cfg.SkillBin())
	assert.Equal(t, 5, cfg.AttemptCap())
	assert.Equal(t, 8.5, cfg.GradeThreshold())
	assert.Equal(t, 4*time.Second, cfg.TransientThreshold())
	assert.Equal(t, 1200*time.Second, cfg.StageTimeout("TRANSFORM"))

	// Unconfigured stage falls back to the default deadline
	assert.Equal(t, 120*time.Second, cfg.StageTimeout("VALIDATE"))
}

func TestLoadSettings_HomeDefaultsToBaseDir(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Home())
}

func TestLoadSettings_HomeFromBaseDirWhenKeyAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "setting.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"attempt_cap": 2}`), 0644))

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Home())
	assert.Equal(t, 2, cfg.AttemptCap())
}

func TestLoadSettings_ExplicitHomeWinsOverBaseDir(t *testing.T) {
	dir := t.TempDir()
	pinned := filepath.Join(dir, "elsewhere")
	settingJSON := `{"home": ` + strconv.Quote(pinned) + `}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "setting.json"), []byte(settingJSON), 0644))

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, pinned, cfg.Home())
}

func TestLoadSettings_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "setting.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadSettings(dir)
	assert.Error(t, err)
}

func TestCreateDefaultSettings_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "setting.json")
	require.NoError(t, os.WriteFile(path, CreateDefaultSettings(), 0644))

	cfg, err := LoadSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.ConfigSource())
	assert.Equal(t, 3, cfg.AttemptCap())

	// Generated files must not pin a home, or --home would stop working
	assert.Equal(t, dir, cfg.Home())
}
