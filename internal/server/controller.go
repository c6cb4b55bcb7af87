package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/console"
)

const (
	DefaultGracePeriod      = 10 * time.Second
	DefaultKillTimeout      = 5 * time.Second
	DefaultBacklogLines     = 1000
	DefaultSubscriberBuffer = 256
	DefaultWriteTimeout     = 5 * time.Second

	// readerDrainTimeout bounds how long stop waits for buffered output after exit.
	readerDrainTimeout = 500 * time.Millisecond
	maxLineBytes       = 1024 * 1024
	readBufferBytes    = 64 * 1024

	groupGracePeriod  = 2 * time.Second
	groupPollInterval = 50 * time.Millisecond
)

// Options configures a Controller. Zero values fall back to the defaults above.
type Options struct {
	ServerID         string
	Executable       string
	GracePeriod      time.Duration
	KillTimeout      time.Duration
	BacklogLines     int
	SubscriberBuffer int
	WriteTimeout     time.Duration
}

// Controller owns the lifecycle of one game server process.
type Controller struct {
	opts Options

	// opMu serializes Start, Stop, Restart and Shutdown.
	opMu sync.Mutex

	mu         sync.RWMutex
	session    Session
	proc       *managedProcess
	configured string
	remote     RemoteConsole
	closed     bool

	events     *console.Broadcaster[StateEvent]
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

type managedProcess struct {
	cmd    *exec.Cmd
	pid    int
	runID  string
	stdin  *os.File
	output *os.File
	stream *console.Stream

	writeMu    sync.Mutex
	stopping   atomic.Bool
	done       chan struct{}
	readerDone chan struct{}
	exit       ExitInfo
}

func (p *managedProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// NewController creates a controller in the Stopped state.
func NewController(opts Options) *Controller {
	if opts.ServerID == "" {
		opts.ServerID = "default"
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = DefaultKillTimeout
	}
	if opts.BacklogLines <= 0 {
		opts.BacklogLines = DefaultBacklogLines
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	lifeCtx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:       opts,
		session:    Session{ServerID: opts.ServerID, State: StateStopped},
		configured: strings.TrimSpace(opts.Executable),
		events:     console.NewBroadcaster[StateEvent](32),
		lifeCtx:    lifeCtx,
		lifeCancel: cancel,
	}
}

// ServerID returns the identifier used in logs and storage.
func (c *Controller) ServerID() string {
	return c.opts.ServerID
}

// GracePeriod returns the configured stop grace period.
func (c *Controller) GracePeriod() time.Duration {
	return c.opts.GracePeriod
}

// Snapshot returns a copy of the session record.
func (c *Controller) Snapshot() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.clone()
}

// Alive reports whether the tracked process is still running.
func (c *Controller) Alive() bool {
	c.mu.RLock()
	p := c.proc
	c.mu.RUnlock()
	return p != nil && !p.exited()
}

// ConfiguredPath returns the executable Restart and StartConfigured use.
func (c *Controller) ConfiguredPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.configured
}

// SetExecutable records the executable for later starts without launching it.
func (c *Controller) SetExecutable(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return ErrEmptyPath
	}
	c.mu.Lock()
	c.configured = path
	c.mu.Unlock()
	return nil
}

// Events subscribes to lifecycle notifications. After Shutdown the channel is closed.
func (c *Controller) Events() (<-chan StateEvent, func()) {
	ch, cancel, err := c.events.Subscribe()
	if err != nil {
		closed := make(chan StateEvent)
		close(closed)
		return closed, func() {}
	}
	return ch, cancel
}

// Start launches path. It fails with ErrAlreadyRunning while a process is tracked.
func (c *Controller) Start(ctx context.Context, path string) (Session, error) {
	if strings.TrimSpace(path) == "" {
		return Session{}, ErrEmptyPath
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.checkStartable(); err != nil {
		return Session{}, err
	}
	return c.startLocked(ctx, path)
}

// StartConfigured launches the configured executable.
func (c *Controller) StartConfigured(ctx context.Context) (Session, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.checkStartable(); err != nil {
		return Session{}, err
	}
	path := c.ConfiguredPath()
	if path == "" {
		return Session{}, ErrNotConfigured
	}
	return c.startLocked(ctx, path)
}

func (c *Controller) checkStartable() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if c.proc != nil {
		return ErrAlreadyRunning
	}
	return nil
}

func (c *Controller) startLocked(ctx context.Context, path string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	cmd, abs, err := buildCommand(path)
	if err != nil {
		log.Printf("[Controller] Spawn of %s rejected: %v", path, err)
		return Session{}, err
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return Session{}, &SpawnError{Path: abs, Detail: "failed to create output pipe", Err: err}
	}
	inR, inW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return Session{}, &SpawnError{Path: abs, Detail: "failed to create input pipe", Err: err}
	}

	cmd.Stdout = outW
	cmd.Stderr = outW
	cmd.Stdin = inR

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		inR.Close()
		inW.Close()
		log.Printf("[Controller] Failed to start %s: %v", abs, err)
		return Session{}, &SpawnError{Path: abs, Detail: "failed to spawn process", Err: err}
	}
	// The child holds its own copies now.
	outW.Close()
	inR.Close()

	runID := uuid.NewString()
	p := &managedProcess{
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		runID:      runID,
		stdin:      inW,
		output:     outR,
		stream:     console.NewStream(runID, c.opts.BacklogLines, c.opts.SubscriberBuffer),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}

	now := time.Now()
	c.mu.Lock()
	c.proc = p
	c.configured = path
	c.session.RunID = runID
	c.session.ExecutablePath = abs
	c.session.State = StateRunning
	c.session.PID = p.pid
	c.session.LastStartTime = &now
	c.session.LastExit = nil
	snapshot := c.session.clone()
	c.mu.Unlock()

	go c.readOutput(p)
	go c.waitExit(p)

	log.Printf("[Controller] Started %s (pid=%d, run=%s)", abs, p.pid, runID)
	c.events.Publish(StateEvent{Type: EventStarted, Session: snapshot, At: now})
	return snapshot, nil
}

// readOutput drains the merged output until EOF. Lines longer than
// maxLineBytes are split so the pipe is never left unread.
func (c *Controller) readOutput(p *managedProcess) {
	defer close(p.readerDone)
	defer p.stream.Close()

	reader := bufio.NewReaderSize(p.output, readBufferBytes)
	var (
		buf   []byte
		split bool
	)
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if len(buf) > 0 {
				p.stream.Append(string(buf))
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				log.Printf("[Controller] Output reader for run %s stopped: %v", p.runID, err)
			}
			return
		}

		buf = append(buf, chunk...)
		switch {
		case len(buf) >= maxLineBytes:
			p.stream.Append(string(buf))
			buf = buf[:0]
			split = true
		case !isPrefix:
			if len(buf) > 0 || !split {
				p.stream.Append(string(buf))
			}
			buf = buf[:0]
			split = false
		}
	}
}

func (c *Controller) waitExit(p *managedProcess) {
	err := p.cmd.Wait()
	p.exit = exitInfoFrom(p.cmd.ProcessState, err)
	close(p.done)

	if p.stopping.Load() {
		return
	}

	log.Printf("[Controller] Process %d exited on its own: %s", p.pid, p.exit.Detail)

	c.mu.Lock()
	if c.proc != p {
		c.mu.Unlock()
		return
	}
	exit := p.exit
	c.session.LastExit = &exit
	snapshot := c.session.clone()
	c.mu.Unlock()

	c.events.Publish(StateEvent{
		Type:    EventExited,
		Session: snapshot,
		Exit:    &exit,
		Crashed: !exit.Clean(),
		At:      exit.At,
	})
}

// Stop ends the process tree. Termination problems are returned as warnings in
// the report; the session always ends up Stopped. Cancelling ctx skips the
// remainder of the grace period.
func (c *Controller) Stop(ctx context.Context) (*StopReport, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) (*StopReport, error) {
	c.mu.RLock()
	p := c.proc
	c.mu.RUnlock()
	if p == nil {
		return nil, ErrNotRunning
	}

	p.stopping.Store(true)
	report := &StopReport{}

	if p.exited() {
		report.Crashed = !p.exit.Clean()
		log.Printf("[Controller] Process %d had already exited (%s)", p.pid, p.exit.Detail)
	} else {
		report.Forced = c.terminateTree(ctx, p, report)
		report.Crashed = report.Forced
		if !report.Forced && p.exited() && !p.exit.Clean() {
			log.Printf("[Controller] Process %d exited during stop: %s", p.pid, p.exit.Detail)
		}
	}

	if c.sweepGroup(ctx, p, report) {
		report.Forced = true
		report.Crashed = true
	}

	if p.exited() {
		exit := p.exit
		report.Exit = &exit
	}

	c.release(p)

	now := time.Now()
	c.mu.Lock()
	c.proc = nil
	c.session.State = StateStopped
	c.session.PID = 0
	c.session.LastStopTime = &now
	if report.Crashed {
		c.session.LastCrashTime = &now
	} else {
		c.session.LastClosedTime = &now
	}
	if report.Exit != nil {
		exit := *report.Exit
		c.session.LastExit = &exit
	}
	report.Session = c.session.clone()
	c.mu.Unlock()

	for _, w := range report.Warnings {
		log.Printf("[Controller] Warning while stopping: %v", w)
	}
	log.Printf("[Controller] Server %s stopped (forced=%v, crashed=%v)", c.opts.ServerID, report.Forced, report.Crashed)

	c.events.Publish(StateEvent{
		Type:     EventStopped,
		Session:  report.Session,
		Exit:     report.Exit,
		Forced:   report.Forced,
		Crashed:  report.Crashed,
		Warnings: report.WarningStrings(),
		At:       now,
	})
	return report, nil
}

// terminateTree runs the two-phase protocol and reports whether the kill phase was needed.
func (c *Controller) terminateTree(ctx context.Context, p *managedProcess, report *StopReport) bool {
	pid := int32(p.pid)
	warn := func(target int32, detail string, err error) {
		report.Warnings = append(report.Warnings, &TerminationWarning{PID: target, Detail: detail, Err: err})
	}

	// Process table queries must still complete after ctx is cancelled.
	osCtx, cancelOS := context.WithTimeout(context.Background(), c.opts.KillTimeout)
	defer cancelOS()

	first, err := findDescendants(osCtx, pid)
	if err != nil {
		warn(pid, "failed to enumerate descendants", err)
	}
	for i := len(first) - 1; i >= 0; i-- {
		if err := signalRef(osCtx, first[i], false); err != nil {
			warn(first[i].PID, "failed to terminate descendant", err)
		}
	}
	if err := requestTerminate(p.cmd.Process); err != nil && !isGone(err) {
		warn(pid, "failed to terminate process", err)
	}

	grace := time.NewTimer(c.opts.GracePeriod)
	defer grace.Stop()
	select {
	case <-p.done:
		return false
	case <-grace.C:
		log.Printf("[Controller] Process %d ignored termination for %v, killing", pid, c.opts.GracePeriod)
	case <-ctx.Done():
		log.Printf("[Controller] Stop of %d cancelled, killing now", pid)
	case <-c.lifeCtx.Done():
		log.Printf("[Controller] Shutting down, killing %d now", pid)
	}

	killCtx, cancelKill := context.WithTimeout(context.Background(), c.opts.KillTimeout)
	defer cancelKill()

	second, err := findDescendants(killCtx, pid)
	if err != nil {
		warn(pid, "failed to enumerate descendants", err)
	}
	all := mergeRefs(first, second)
	for i := len(all) - 1; i >= 0; i-- {
		if err := signalRef(killCtx, all[i], true); err != nil {
			warn(all[i].PID, "failed to kill descendant", err)
		}
	}
	if err := p.cmd.Process.Kill(); err != nil && !isGone(err) {
		warn(pid, "failed to kill process", err)
	}
	if err := killProcessGroup(p.pid); err != nil && !isGone(err) {
		warn(pid, "failed to kill process group", err)
	}

	reap := time.NewTimer(c.opts.KillTimeout)
	defer reap.Stop()
	select {
	case <-p.done:
	case <-reap.C:
		warn(pid, "process still present after kill", nil)
	}
	return true
}

// sweepGroup ends whatever is left in the run's process group once the parent
// is gone: terminate first, then kill after a short grace. It reports whether
// the kill was needed.
func (c *Controller) sweepGroup(ctx context.Context, p *managedProcess, report *StopReport) bool {
	if len(groupMembers(context.Background(), p.pid)) == 0 {
		return false
	}
	pgid := int32(p.pid)

	log.Printf("[Controller] Process group %d outlived its leader, terminating", pgid)
	if err := terminateProcessGroup(p.pid); err != nil && !isGone(err) {
		report.Warnings = append(report.Warnings, &TerminationWarning{PID: pgid, Detail: "failed to terminate process group", Err: err})
	}

	grace := groupGracePeriod
	if c.opts.GracePeriod < grace {
		grace = c.opts.GracePeriod
	}
	graceCtx, cancelGrace := context.WithCancel(ctx)
	defer cancelGrace()
	stopAfter := context.AfterFunc(c.lifeCtx, cancelGrace)
	defer stopAfter()
	if waitGroupEmpty(graceCtx, p.pid, grace) {
		return false
	}

	log.Printf("[Controller] Process group %d ignored termination, killing", pgid)
	if err := killProcessGroup(p.pid); err != nil && !isGone(err) {
		report.Warnings = append(report.Warnings, &TerminationWarning{PID: pgid, Detail: "failed to kill process group", Err: err})
	}
	if !waitGroupEmpty(context.Background(), p.pid, c.opts.KillTimeout) {
		report.Warnings = append(report.Warnings, &TerminationWarning{PID: pgid, Detail: "process group still present after kill"})
	}
	return true
}

// waitGroupEmpty polls until the group is empty, d elapses or ctx ends.
func waitGroupEmpty(ctx context.Context, pgid int, d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(groupPollInterval)
	defer tick.Stop()

	for {
		if len(groupMembers(context.Background(), pgid)) == 0 {
			return true
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return len(groupMembers(context.Background(), pgid)) == 0
		case <-ctx.Done():
			return false
		}
	}
}

// release closes the pipes and ends the output stream for p.
func (c *Controller) release(p *managedProcess) {
	p.writeMu.Lock()
	if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		log.Printf("[Controller] Failed to close stdin: %v", err)
	}
	p.writeMu.Unlock()

	drain := time.NewTimer(readerDrainTimeout)
	defer drain.Stop()
	select {
	case <-p.readerDone:
	case <-drain.C:
		// A surviving grandchild still holds the write end; the closed pipe ends the reader.
	}
	p.output.Close()
	p.stream.Close()
}

// Restart stops the running process, if any, and starts the configured executable again.
func (c *Controller) Restart(ctx context.Context) (Session, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	path := c.configured
	closed := c.closed
	running := c.proc != nil
	c.mu.RUnlock()

	if closed {
		return Session{}, ErrClosed
	}
	if path == "" {
		return Session{}, ErrNotConfigured
	}

	if running {
		if _, err := c.stopLocked(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			return Session{}, err
		}
	}
	return c.startLocked(ctx, path)
}

// SendCommand writes text and a newline to the process's stdin.
func (c *Controller) SendCommand(text string) error {
	cleaned, err := validateCommand(text)
	if err != nil {
		return err
	}

	c.mu.RLock()
	p := c.proc
	c.mu.RUnlock()
	if p == nil {
		return ErrNotRunning
	}
	return p.write(cleaned, c.opts.WriteTimeout)
}

func (p *managedProcess) write(command string, timeout time.Duration) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	// Deadlines are unsupported on some platforms; the write still goes through.
	_ = p.stdin.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := io.WriteString(p.stdin, command+"\n"); err != nil {
		return fmt.Errorf("failed to write to server stdin: %w", err)
	}
	return nil
}

func validateCommand(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyCommand
	}
	cleaned, err := console.SanitizeCommand(text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return cleaned, nil
}

// StreamOutput subscribes to the output of run runID, or of the current run
// when runID is empty: its backlog first, then live lines. The channel closes
// when the run ends and never reopens. A run that is no longer current fails
// with ErrRunEnded.
func (c *Controller) StreamOutput(runID string) (<-chan console.Line, func(), error) {
	c.mu.RLock()
	p := c.proc
	c.mu.RUnlock()
	if p == nil {
		return nil, func() {}, ErrNotRunning
	}
	if runID != "" && runID != p.runID {
		return nil, func() {}, ErrRunEnded
	}
	ch, cancel := p.stream.Subscribe()
	return ch, cancel, nil
}

// Backlog returns up to n buffered lines of the current run.
func (c *Controller) Backlog(n int) []console.Line {
	c.mu.RLock()
	p := c.proc
	c.mu.RUnlock()
	if p == nil {
		return nil
	}
	return p.stream.Backlog(n)
}

// Shutdown abandons any grace wait in progress, kills a running process and
// closes the event stream. The controller rejects starts afterwards.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.lifeCancel()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var err error
	if _, stopErr := c.stopLocked(ctx); stopErr != nil && !errors.Is(stopErr, ErrNotRunning) {
		err = stopErr
	}
	c.events.Stop()
	return err
}
