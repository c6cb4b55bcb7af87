//go:build !windows

package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

const (
	loopScript     = "while true; do sleep 0.1; done\n"
	stubbornScript = "trap '' TERM\nwhile true; do sleep 0.1; done\n"
	exitScript     = "exit 0\n"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func newTestController(t *testing.T, grace time.Duration) *Controller {
	t.Helper()
	c := NewController(Options{
		ServerID:    "test",
		GracePeriod: grace,
		KillTimeout: 2 * time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestStartStopCycles(t *testing.T) {
	c := newTestController(t, 2*time.Second)
	script := writeScript(t, "loop.sh", loopScript)

	for i := 0; i < 3; i++ {
		session, err := c.Start(context.Background(), script)
		if err != nil {
			t.Fatalf("cycle %d: start failed: %v", i, err)
		}
		if session.State != StateRunning || session.PID == 0 || session.LastStartTime == nil {
			t.Fatalf("cycle %d: unexpected session after start: %+v", i, session)
		}

		report, err := c.Stop(context.Background())
		if err != nil {
			t.Fatalf("cycle %d: stop failed: %v", i, err)
		}
		if report.Session.State != StateStopped {
			t.Fatalf("cycle %d: expected stopped, got %s", i, report.Session.State)
		}
		if report.Forced {
			t.Fatalf("cycle %d: expected graceful stop", i)
		}
		snap := c.Snapshot()
		if snap.State != StateStopped || snap.PID != 0 || snap.LastClosedTime == nil || snap.LastStopTime == nil {
			t.Fatalf("cycle %d: unexpected snapshot: %+v", i, snap)
		}
		if c.Alive() {
			t.Fatalf("cycle %d: expected no live process", i)
		}
	}
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	c := newTestController(t, 2*time.Second)
	script := writeScript(t, "loop.sh", loopScript)

	first, err := c.Start(context.Background(), script)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	other := writeScript(t, "other.sh", loopScript)
	if _, err := c.Start(context.Background(), other); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	after := c.Snapshot()
	if after.PID != first.PID || after.RunID != first.RunID || after.ExecutablePath != first.ExecutablePath {
		t.Fatalf("session changed after rejected start: before=%+v after=%+v", first, after)
	}
}

func TestStartValidation(t *testing.T) {
	c := newTestController(t, time.Second)

	if _, err := c.Start(context.Background(), "  "); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}

	_, err := c.Start(context.Background(), filepath.Join(t.TempDir(), "missing.sh"))
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if c.Snapshot().State != StateStopped {
		t.Fatalf("expected state to remain stopped")
	}

	if _, err := c.Start(context.Background(), t.TempDir()); !errors.As(err, &spawnErr) {
		t.Fatalf("expected SpawnError for directory, got %v", err)
	}
}

func TestStopWhenStopped(t *testing.T) {
	c := newTestController(t, time.Second)

	report, err := c.Stop(context.Background())
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if report != nil {
		t.Fatalf("expected no report")
	}
	if snap := c.Snapshot(); snap.LastStopTime != nil {
		t.Fatalf("expected no state change, got %+v", snap)
	}
}

func TestRestart(t *testing.T) {
	c := newTestController(t, 2*time.Second)

	if _, err := c.Restart(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	script := writeScript(t, "loop.sh", loopScript)
	first, err := c.Start(context.Background(), script)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	second, err := c.Restart(context.Background())
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if second.State != StateRunning {
		t.Fatalf("expected running after restart, got %s", second.State)
	}
	if !second.LastStartTime.After(*first.LastStartTime) {
		t.Fatalf("expected newer start time: %v <= %v", second.LastStartTime, first.LastStartTime)
	}
	if second.PID == first.PID || second.RunID == first.RunID {
		t.Fatalf("expected a new process, got pid %d run %s", second.PID, second.RunID)
	}
	if second.ExecutablePath != first.ExecutablePath {
		t.Fatalf("expected same executable, got %s", second.ExecutablePath)
	}
}

func TestRestartFromStoppedStarts(t *testing.T) {
	c := newTestController(t, 2*time.Second)
	script := writeScript(t, "loop.sh", loopScript)
	if err := c.SetExecutable(script); err != nil {
		t.Fatalf("set executable failed: %v", err)
	}

	session, err := c.Restart(context.Background())
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if session.State != StateRunning {
		t.Fatalf("expected running, got %s", session.State)
	}
}

func TestExternalKillIsDetected(t *testing.T) {
	c := newTestController(t, 2*time.Second)
	script := writeScript(t, "loop.sh", loopScript)

	session, err := c.Start(context.Background(), script)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events, cancel := c.Events()
	defer cancel()

	if err := syscall.Kill(session.PID, syscall.SIGKILL); err != nil {
		t.Fatalf("failed to kill process: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return !c.Alive() })

	if m := c.PollMetrics(context.Background()); m.Available {
		t.Fatalf("expected unavailable metrics after external kill, got %+v", m)
	}

	select {
	case ev := <-events:
		if ev.Type != EventExited || !ev.Crashed {
			t.Fatalf("expected crashed exit event, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected exit event")
	}

	report, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop on dead process failed: %v", err)
	}
	if report.Forced {
		t.Fatalf("expected no escalation for a dead process")
	}
	snap := c.Snapshot()
	if snap.State != StateStopped || snap.LastCrashTime == nil {
		t.Fatalf("expected stopped with crash time, got %+v", snap)
	}
}

func TestImmediateExitMetricsUnavailable(t *testing.T) {
	c := newTestController(t, time.Second)
	script := writeScript(t, "true.sh", exitScript)

	if _, err := c.Start(context.Background(), script); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if m := c.PollMetrics(context.Background()); m.Available {
		t.Fatalf("expected unavailable metrics, got %+v", m)
	}

	waitFor(t, 3*time.Second, func() bool { return !c.Alive() })
	report, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if report.Crashed {
		t.Fatalf("clean exit should not count as crash")
	}
	if c.Snapshot().LastClosedTime == nil {
		t.Fatalf("expected closed time for clean exit")
	}
}

func TestStubbornProcessIsKilled(t *testing.T) {
	c := newTestController(t, 300*time.Millisecond)
	script := writeScript(t, "stubborn.sh", stubbornScript)

	session, err := c.Start(context.Background(), script)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// let the trap install before signalling
	time.Sleep(200 * time.Millisecond)

	report, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !report.Forced || !report.Crashed {
		t.Fatalf("expected forced kill, got %+v", report)
	}
	if c.Snapshot().LastCrashTime == nil {
		t.Fatalf("expected crash time after escalation")
	}
	if pidExists(context.Background(), session.PID) {
		t.Fatalf("process %d still present after kill", session.PID)
	}
}

func TestStopCancelledSkipsGrace(t *testing.T) {
	c := newTestController(t, 30*time.Second)
	script := writeScript(t, "stubborn.sh", stubbornScript)

	if _, err := c.Start(context.Background(), script); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	begin := time.Now()
	report, err := c.Stop(ctx)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !report.Forced {
		t.Fatalf("expected forced stop after cancellation")
	}
	if elapsed := time.Since(begin); elapsed > 10*time.Second {
		t.Fatalf("stop waited %v despite cancellation", elapsed)
	}
}

func TestShutdownKillsAndRejectsStart(t *testing.T) {
	c := NewController(Options{GracePeriod: 30 * time.Second, KillTimeout: 2 * time.Second})
	script := writeScript(t, "stubborn.sh", stubbornScript)

	session, err := c.Start(context.Background(), script)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	events, _ := c.Events()

	begin := time.Now()
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 10*time.Second {
		t.Fatalf("shutdown waited %v", elapsed)
	}
	if pidExists(context.Background(), session.PID) {
		t.Fatalf("process survived shutdown")
	}
	if _, err := c.Start(context.Background(), script); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	for range events {
	}
}

func TestOutputStreaming(t *testing.T) {
	c := newTestController(t, 2*time.Second)
	script := writeScript(t, "chatty.sh", "echo hello\necho oops 1>&2\nwhile read line; do echo \"got $line\"; done\n")

	if _, _, err := c.StreamOutput(""); err == nil {
		t.Fatalf("expected ErrNotRunning before start")
	}

	if _, err := c.Start(context.Background(), script); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	lines, cancel, err := c.StreamOutput("")
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	defer cancel()

	if err := c.SendCommand("ping"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	want := map[string]bool{"hello": false, "oops": false, "got ping": false}
	timeout := time.After(3 * time.Second)
	for remaining := len(want); remaining > 0; {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed early")
			}
			if seen, tracked := want[line.Text]; tracked && !seen {
				want[line.Text] = true
				remaining--
			}
		case <-timeout:
			t.Fatalf("missing output lines: %v", want)
		}
	}

	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	for range lines {
	}
	if _, _, err := c.StreamOutput(""); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestSendCommandValidation(t *testing.T) {
	c := newTestController(t, time.Second)

	if err := c.SendCommand("   "); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
	if err := c.SendCommand("say hi"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	script := writeScript(t, "loop.sh", loopScript)
	if _, err := c.Start(context.Background(), script); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := c.SendCommand("say hi\nstop"); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestWorkingDirectoryIsScriptDir(t *testing.T) {
	c := newTestController(t, 2*time.Second)
	script := writeScript(t, "pwd.sh", "pwd\nwhile true; do sleep 0.1; done\n")

	if _, err := c.Start(context.Background(), script); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	lines, cancel, err := c.StreamOutput("")
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	defer cancel()

	select {
	case line := <-lines:
		dir, _ := filepath.EvalSymlinks(filepath.Dir(script))
		got, _ := filepath.EvalSymlinks(strings.TrimSpace(line.Text))
		if got != dir {
			t.Fatalf("expected working dir %s, got %s", dir, got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no output")
	}
}

func TestOversizedLineDoesNotStallReader(t *testing.T) {
	c := newTestController(t, 2*time.Second)
	script := writeScript(t, "long.sh",
		"head -c 2000000 /dev/zero | tr '\\0' a\necho\necho tail\ntouch marker\nwhile true; do sleep 0.1; done\n")
	marker := filepath.Join(filepath.Dir(script), "marker")

	if _, err := c.Start(context.Background(), script); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	})
	if !c.Alive() {
		t.Fatalf("expected the server to keep running")
	}

	var total int
	waitFor(t, 3*time.Second, func() bool {
		total = 0
		tail := false
		for _, line := range c.Backlog(0) {
			if len(line.Text) > maxLineBytes+readBufferBytes {
				t.Fatalf("line of %d bytes was not split", len(line.Text))
			}
			if line.Text == "tail" {
				tail = true
				continue
			}
			total += strings.Count(line.Text, "a")
		}
		return tail
	})
	if total != 2000000 {
		t.Fatalf("expected 2000000 bytes of the long line, got %d", total)
	}
}

// childScript starts a background child, records its PID next to the script
// and waits on it. prefix runs in the child's subshell before it execs sleep.
func childScript(t *testing.T, prefix string) (script, pidFile string) {
	t.Helper()
	body := "(" + prefix + "exec sleep 1000) &\necho $! > child.pid\nwait\n"
	script = writeScript(t, "wrap.sh", body)
	return script, filepath.Join(filepath.Dir(script), "child.pid")
}

func readChildPID(t *testing.T, pidFile string) int {
	t.Helper()
	var pid int
	waitFor(t, 3*time.Second, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		n, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || n <= 0 {
			return false
		}
		pid = n
		return true
	})
	return pid
}

func TestGracefulStopEndsDescendants(t *testing.T) {
	c := newTestController(t, 2*time.Second)
	script, pidFile := childScript(t, "")

	if _, err := c.Start(context.Background(), script); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	child := readChildPID(t, pidFile)

	report, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if report.Forced {
		t.Fatalf("expected graceful stop, got %+v", report)
	}
	if pidExists(context.Background(), child) {
		t.Fatalf("descendant %d still present after stop", child)
	}
}

func TestStubbornDescendantIsKilled(t *testing.T) {
	c := newTestController(t, time.Second)
	script, pidFile := childScript(t, "trap '' TERM; ")

	if _, err := c.Start(context.Background(), script); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	child := readChildPID(t, pidFile)
	// let the child install its trap before signalling
	time.Sleep(200 * time.Millisecond)

	report, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !report.Forced || !report.Crashed {
		t.Fatalf("expected escalation for a descendant ignoring termination, got %+v", report)
	}
	if c.Snapshot().LastCrashTime == nil {
		t.Fatalf("expected crash time after escalation")
	}
	if pidExists(context.Background(), child) {
		t.Fatalf("descendant %d survived the kill phase", child)
	}
}

func TestStopAfterParentKilledEndsDescendants(t *testing.T) {
	c := newTestController(t, 2*time.Second)
	script, pidFile := childScript(t, "")

	session, err := c.Start(context.Background(), script)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	child := readChildPID(t, pidFile)

	if err := syscall.Kill(session.PID, syscall.SIGKILL); err != nil {
		t.Fatalf("failed to kill parent: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return !c.Alive() })
	if !pidExists(context.Background(), child) {
		t.Fatalf("expected descendant %d to outlive its parent", child)
	}

	report, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !report.Crashed {
		t.Fatalf("expected killed parent to count as a crash, got %+v", report)
	}
	if pidExists(context.Background(), child) {
		t.Fatalf("orphaned descendant %d still present after stop", child)
	}
	if c.Snapshot().State != StateStopped {
		t.Fatalf("expected stopped")
	}
}

func TestStreamOutputRejectsEndedRun(t *testing.T) {
	c := newTestController(t, 2*time.Second)
	script := writeScript(t, "loop.sh", loopScript)

	first, err := c.Start(context.Background(), script)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, cancel, err := c.StreamOutput(first.RunID); err != nil {
		t.Fatalf("stream for current run failed: %v", err)
	} else {
		cancel()
	}

	if _, err := c.Restart(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if _, _, err := c.StreamOutput(first.RunID); !errors.Is(err, ErrRunEnded) {
		t.Fatalf("expected ErrRunEnded for the previous run, got %v", err)
	}
}
