//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

// setProcAttr is a no-op on Windows; there is no POSIX process group to
// join.
func setProcAttr(cmd *exec.Cmd) {}

// signalProcess asks the process to exit. Windows has no SIGTERM
// equivalent for arbitrary processes, so this goes straight to Kill; the
// process exits without waiting out the termination grace period.
func signalProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// killProcessGroup forcefully kills pid.
func killProcessGroup(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
