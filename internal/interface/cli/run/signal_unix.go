//go:build !windows
// +build !windows

package run

import (
	"os"
	"syscall"
)

// signalsToHandle returns the signals that trigger a graceful stop on Unix
func signalsToHandle() []os.Signal {
	return []os.Signal{
		os.Interrupt,    // Ctrl+C (SIGINT)
		syscall.SIGTERM, // kill command
	}
}
