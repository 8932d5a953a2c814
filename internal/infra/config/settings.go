package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stagehand-dev/stagehand/internal/app/config"
)

// RawSettings represents the structure of the setting.json file.
// Every field is a pointer so a missing key can be told apart from an
// explicit zero; applyDefaults fills the gaps.
type RawSettings struct {
	// Core settings. Home is omitted from generated files so the resolved
	// base directory (--home flag, STAGEHAND_HOME) keeps winning.
	Home     *string `json:"home,omitempty"`
	SkillBin *string `json:"skill_bin"`

	// Stage execution
	DefaultTimeoutSec     *int           `json:"default_timeout_sec"`
	StageTimeoutSec       map[string]int `json:"stage_timeout_sec"`
	TransientThresholdSec *int           `json:"transient_threshold_sec"`
	TransientBackoffSec   *int           `json:"transient_backoff_sec"`

	// Quality gating
	AttemptCap     *int     `json:"attempt_cap"`
	GradeThreshold *float64 `json:"grade_threshold"`

	// Housekeeping
	StaleTTLMin *int `json:"stale_ttl_min"`

	// Logging
	StderrLevel *string `json:"stderr_level"`
}

// LoadSettings loads configuration from setting.json under baseDir.
// Priority: setting.json > defaults. There are no environment variable
// overrides; the home directory itself is the only thing resolved from env,
// and that happens before this function is called.
func LoadSettings(baseDir string) (*config.AppConfig, error) {
	settings := &RawSettings{}
	configSource := "default"
	settingPath := ""

	jsonPath := filepath.Join(baseDir, "setting.json")
	if data, err := os.ReadFile(jsonPath); err == nil {
		if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", jsonPath, err)
		}
		configSource = "json"
		settingPath = jsonPath
	}

	// baseDir is already the resolved home (--home flag or STAGEHAND_HOME);
	// setting.json can still pin a different one explicitly.
	if settings.Home == nil || *settings.Home == "" {
		h := baseDir
		settings.Home = &h
	}
	applyDefaults(settings)

	return buildAppConfig(settings, configSource, settingPath), nil
}

// applyDefaults fills in default values for any nil fields
func applyDefaults(settings *RawSettings) {
	// Core defaults. Home is deliberately not defaulted here: LoadSettings
	// seeds it from the resolved base directory.
	if settings.SkillBin == nil {
		v := "skill"
		settings.SkillBin = &v
	}

	// Stage execution
	if settings.DefaultTimeoutSec == nil {
		v := 120
		settings.DefaultTimeoutSec = &v
	}
	if settings.StageTimeoutSec == nil {
		// Generation-heavy stages need long deadlines, simple ones short
		settings.StageTimeoutSec = map[string]int{
			"INGEST":        60,
			"RESEARCH":      600,
			"TRANSFORM":     900,
			"ELEVATE":       900,
			"VALIDATE":      120,
			"QUALITY_AUDIT": 600,
		}
	}
	if settings.TransientThresholdSec == nil {
		v := 10
		settings.TransientThresholdSec = &v
	}
	if settings.TransientBackoffSec == nil {
		v := 2
		settings.TransientBackoffSec = &v
	}

	// Quality gating
	if settings.AttemptCap == nil {
		v := 3
		settings.AttemptCap = &v
	}
	if settings.GradeThreshold == nil {
		v := 7.0
		settings.GradeThreshold = &v
	}

	// Housekeeping
	if settings.StaleTTLMin == nil {
		v := 60
		settings.StaleTTLMin = &v
	}

	// Logging
	if settings.StderrLevel == nil {
		v := "info"
		settings.StderrLevel = &v
	}
}

// buildAppConfig converts RawSettings to AppConfig
func buildAppConfig(settings *RawSettings, configSource, settingPath string) *config.AppConfig {
	return config.NewAppConfig(config.Params{
		Home:                  *settings.Home,
		SkillBin:              *settings.SkillBin,
		DefaultTimeoutSec:     *settings.DefaultTimeoutSec,
		StageTimeoutSec:       settings.StageTimeoutSec,
		TransientThresholdSec: *settings.TransientThresholdSec,
		TransientBackoffSec:   *settings.TransientBackoffSec,
		AttemptCap:            *settings.AttemptCap,
		GradeThreshold:        *settings.GradeThreshold,
		StaleTTLMin:           *settings.StaleTTLMin,
		StderrLevel:           *settings.StderrLevel,
		ConfigSource:          configSource,
		SettingPath:           settingPath,
	})
}

// CreateDefaultSettings creates a default setting.json content
func CreateDefaultSettings() []byte {
	settings := &RawSettings{}
	applyDefaults(settings)

	data, _ := json.MarshalIndent(settings, "", "  ")
	return data
}
