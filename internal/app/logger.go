package app

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Logger interface for app layer
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// Log levels ordered by verbosity
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel converts a level name to its numeric value.
// Unknown names fall back to info.
func ParseLevel(name string) int {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// stderrLogger writes leveled lines to a single writer
type stderrLogger struct {
	output io.Writer
	level  int
}

// NewLogger creates a leveled logger writing to out.
// Messages below min are dropped.
func NewLogger(out io.Writer, min int) Logger {
	if out == nil {
		out = os.Stderr
	}
	return &stderrLogger{output: out, level: min}
}

func (l *stderrLogger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, "DEBUG", format, args...)
}

func (l *stderrLogger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, "INFO", format, args...)
}

func (l *stderrLogger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, "WARN", format, args...)
}

func (l *stderrLogger) Error(format string, args ...interface{}) {
	l.log(LevelError, "ERROR", format, args...)
}

func (l *stderrLogger) log(level int, tag, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	fmt.Fprintf(l.output, "%s: %s", tag, msg)
}

// NopLogger discards everything. Used by tests.
type NopLogger struct{}

func (NopLogger) Debug(format string, args ...interface{}) {}
func (NopLogger) Info(format string, args ...interface{})  {}
func (NopLogger) Warn(format string, args ...interface{})  {}
func (NopLogger) Error(format string, args ...interface{}) {}
