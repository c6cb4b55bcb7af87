//go:build !windows

package server

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
)

// The child leads its own process group so the whole tree can be signalled.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func requestTerminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

func terminateProcessGroup(pgid int) error {
	if pgid <= 0 {
		return nil
	}
	return syscall.Kill(-pgid, syscall.SIGTERM)
}

func killProcessGroup(pgid int) error {
	if pgid <= 0 {
		return nil
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// groupMembers lists the live processes still in process group pgid.
// Orphans reparented to init keep their group, so this finds them too.
func groupMembers(ctx context.Context, pgid int) []int32 {
	if pgid <= 0 {
		return nil
	}
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil
	}
	var out []int32
	for _, pid := range pids {
		group, err := syscall.Getpgid(int(pid))
		if err != nil || group != pgid {
			continue
		}
		if isZombie(ctx, pid) {
			continue
		}
		out = append(out, pid)
	}
	return out
}
