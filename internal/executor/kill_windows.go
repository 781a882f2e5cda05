//go:build windows

package executor

import (
	"os/exec"
	"strconv"
)

func configureProcAttrs(cmd *exec.Cmd) {}

func sendTerm(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func sendKill(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// killTree kills the full process tree via taskkill.
func killTree(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	_ = kill.Run()
	return true
}
