package config

import "time"

// Config provides read-only access to application configuration.
// The concrete value is built once by the infrastructure loader and passed
// by reference into the sequencer and executor; nothing reads settings from
// the environment after startup.
type Config interface {
	// Core settings
	Home() string     // Base directory for stagehand (STAGEHAND_HOME)
	SkillBin() string // Skill binary invoked for every stage

	// Stage execution
	StageTimeout(stage string) time.Duration // Per-stage deadline
	DefaultTimeout() time.Duration           // Deadline for stages without an override
	TransientThreshold() time.Duration       // Failures faster than this with empty diagnostics get one executor-level retry
	TransientBackoff() time.Duration         // Pause before the executor-level retry

	// Quality gating
	AttemptCap() int         // Max attempts per stage before a terminal status
	GradeThreshold() float64 // Minimum semantic-audit grade to pass

	// Housekeeping
	StaleTTL() time.Duration // Age after which IN_PROGRESS entries are considered stale

	// Logging
	StderrLevel() string // debug, info, warn, error

	// Metadata
	ConfigSource() string // "json" or "default"
	SettingPath() string  // Path to setting.json if loaded from file
}

// AppConfig is the concrete implementation of Config.
type AppConfig struct {
	home     string
	skillBin string

	defaultTimeoutSec       int
	stageTimeoutSec         map[string]int
	transientThresholdSec   int
	transientBackoffSec     int

	attemptCap     int
	gradeThreshold float64

	staleTTLMin int

	stderrLevel string

	configSource string
	settingPath  string
}

// Params carries the loaded values into NewAppConfig. The loader fills every
// field; zero values here mean the loader's defaults were bypassed.
type Params struct {
	Home     string
	SkillBin string

	DefaultTimeoutSec     int
	StageTimeoutSec       map[string]int
	TransientThresholdSec int
	TransientBackoffSec   int

	AttemptCap     int
	GradeThreshold float64

	StaleTTLMin int

	StderrLevel string

	ConfigSource string
	SettingPath  string
}

// NewAppConfig creates a new AppConfig from loaded parameters
func NewAppConfig(p Params) *AppConfig {
	return &AppConfig{
		home:                  p.Home,
		skillBin:              p.SkillBin,
		defaultTimeoutSec:     p.DefaultTimeoutSec,
		stageTimeoutSec:       p.StageTimeoutSec,
		transientThresholdSec: p.TransientThresholdSec,
		transientBackoffSec:   p.TransientBackoffSec,
		attemptCap:            p.AttemptCap,
		gradeThreshold:        p.GradeThreshold,
		staleTTLMin:           p.StaleTTLMin,
		stderrLevel:           p.StderrLevel,
		configSource:          p.ConfigSource,
		settingPath:           p.SettingPath,
	}
}

// Home returns the base directory for stagehand
func (c *AppConfig) Home() string {
	return c.home
}

// SkillBin returns the skill binary path
func (c *AppConfig) SkillBin() string {
	return c.skillBin
}

// StageTimeout returns the deadline for a named stage, falling back to the
// default when no override is configured
func (c *AppConfig) StageTimeout(stage string) time.Duration {
	if sec, ok := c.stageTimeoutSec[stage]; ok && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return c.DefaultTimeout()
}

// DefaultTimeout returns the deadline applied to stages without an override
func (c *AppConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.defaultTimeoutSec) * time.Second
}

// TransientThreshold returns the fast-failure window for the executor retry
func (c *AppConfig) TransientThreshold() time.Duration {
	return time.Duration(c.transientThresholdSec) * time.Second
}

// TransientBackoff returns the pause before the executor-level retry
func (c *AppConfig) TransientBackoff() time.Duration {
	return time.Duration(c.transientBackoffSec) * time.Second
}

// AttemptCap returns the maximum attempts per stage
func (c *AppConfig) AttemptCap() int {
	return c.attemptCap
}

// GradeThreshold returns the minimum passing semantic-audit grade
func (c *AppConfig) GradeThreshold() float64 {
	return c.gradeThreshold
}

// StaleTTL returns the age after which IN_PROGRESS entries are stale
func (c *AppConfig) StaleTTL() time.Duration {
	return time.Duration(c.staleTTLMin) * time.Minute
}

// StderrLevel returns the stderr log level
func (c *AppConfig) StderrLevel() string {
	return c.stderrLevel
}

// ConfigSource returns the source of configuration
func (c *AppConfig) ConfigSource() string {
	return c.configSource
}

// SettingPath returns the path to setting.json if loaded from file
func (c *AppConfig) SettingPath() string {
	return c.settingPath
}
