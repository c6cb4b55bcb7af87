//go:build windows

package server

import (
	"context"
	"os"
	"os/exec"
	"syscall"
)

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Windows has no catchable termination signal for console children.
func requestTerminate(p *os.Process) error {
	return p.Kill()
}

func terminateProcessGroup(int) error {
	return nil
}

func killProcessGroup(int) error {
	return nil
}

// Descendants are reached through the process tree walk on Windows.
func groupMembers(context.Context, int) []int32 {
	return nil
}
