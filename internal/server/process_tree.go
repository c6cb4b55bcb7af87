package server

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
)

// procRef pins a PID to its creation time so a recycled PID is never signalled.
type procRef struct {
	PID        int32
	CreateTime int64
}

// findDescendants walks the process table from root and returns every
// descendant, parents before children.
func findDescendants(ctx context.Context, root int32) ([]procRef, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	children := make(map[int32][]*process.Process)
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		children[ppid] = append(children[ppid], p)
	}

	var out []procRef
	seen := map[int32]bool{root: true}
	queue := []int32{root}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range children[pid] {
			if seen[child.Pid] {
				continue
			}
			seen[child.Pid] = true
			created, _ := child.CreateTimeWithContext(ctx)
			out = append(out, procRef{PID: child.Pid, CreateTime: created})
			queue = append(queue, child.Pid)
		}
	}
	return out, nil
}

// mergeRefs returns a followed by the entries of b it does not already hold.
func mergeRefs(a, b []procRef) []procRef {
	seen := make(map[int32]bool, len(a))
	out := make([]procRef, 0, len(a)+len(b))
	for _, ref := range a {
		seen[ref.PID] = true
		out = append(out, ref)
	}
	for _, ref := range b {
		if !seen[ref.PID] {
			seen[ref.PID] = true
			out = append(out, ref)
		}
	}
	return out
}

// signalRef terminates or kills one descendant. A process that is already
// gone, or whose PID now belongs to someone else, is not an error.
func signalRef(ctx context.Context, ref procRef, force bool) error {
	p, err := process.NewProcessWithContext(ctx, ref.PID)
	if err != nil {
		if isGone(err) {
			return nil
		}
		return err
	}
	if ref.CreateTime != 0 {
		if created, err := p.CreateTimeWithContext(ctx); err == nil && created != ref.CreateTime {
			return nil
		}
	}

	if force {
		err = p.KillWithContext(ctx)
	} else {
		err = p.TerminateWithContext(ctx)
	}
	if err != nil && !isGone(err) {
		return err
	}
	return nil
}

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) ||
		errors.Is(err, syscall.ESRCH) ||
		errors.Is(err, process.ErrorProcessNotRunning)
}

// isZombie reports whether pid has exited and only waits to be reaped.
func isZombie(ctx context.Context, pid int32) bool {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == process.Zombie {
			return true
		}
	}
	return false
}

// pidExists reports whether pid is still running. Zombies count as gone.
func pidExists(ctx context.Context, pid int) bool {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	return err == nil && exists && !isZombie(ctx, int32(pid))
}
