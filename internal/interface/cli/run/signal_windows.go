//go:build windows
// +build windows

package run

import "os"

// signalsToHandle returns the signals that trigger a graceful stop on Windows
func signalsToHandle() []os.Signal {
	return []os.Signal{os.Interrupt}
}
