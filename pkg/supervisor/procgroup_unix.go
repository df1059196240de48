//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the child in its own process group so termination can
// reach any subprocesses it spawns.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcess sends SIGTERM to the process group rooted at pid.
func signalProcess(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessGroup sends SIGKILL to the process group rooted at pid.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
