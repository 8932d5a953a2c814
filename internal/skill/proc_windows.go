//go:build windows

package skill

import "os/exec"

// Windows has no process groups in the Unix sense; killing the direct
// child is the best available cleanup.
func configureCommandProcess(cmd *exec.Cmd) {}

func terminateCommandProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
