//go:build windows

package cli

import (
	"os"
	"os/exec"
)

// setSysProcAttr is a no-op on Windows. For production deployments, use a
// Windows service wrapper such as NSSM or run in the foreground.
func setSysProcAttr(cmd *exec.Cmd) {}

// isProcessRunning attempts to check whether a process is alive on Windows.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Windows, FindProcess always succeeds. Signal only supports os.Kill
	// and os.Interrupt; a dead process reports ErrProcessDone.
	err = proc.Signal(os.Interrupt)
	if err == nil {
		return true
	}
	return err != os.ErrProcessDone
}

// stopProcess kills the process on Windows (no graceful SIGTERM support).
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
