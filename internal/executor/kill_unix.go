//go:build !windows

package executor

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcAttrs places the child in its own process group so signals
// reach the whole tree.
func configureProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcess delivers sig to the child's process group, falling back
// to the child alone when the group signal fails.
func signalProcess(cmd *exec.Cmd, sig unix.Signal) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, sig); err != nil {
		_ = unix.Kill(pid, sig)
	}
}

func sendTerm(cmd *exec.Cmd) { signalProcess(cmd, unix.SIGTERM) }
func sendKill(cmd *exec.Cmd) { signalProcess(cmd, unix.SIGKILL) }

// killTree is the group kill on unix; it reports that a tree-wide kill
// was attempted.
func killTree(cmd *exec.Cmd) bool {
	signalProcess(cmd, unix.SIGKILL)
	return true
}
