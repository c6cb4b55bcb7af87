package schedule

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/server"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Restarter is the part of the controller the scheduler drives.
type Restarter interface {
	Snapshot() server.Session
	Restart(ctx context.Context) (server.Session, error)
}

// Result describes one scheduled run.
type Result struct {
	At      time.Time
	Skipped bool
	Session server.Session
	Err     error
}

// RestartScheduler restarts a running server on a cron schedule.
type RestartScheduler struct {
	target  Restarter
	spec    string
	timeout time.Duration
	cron    *cron.Cron

	// OnRun receives the outcome of every scheduled run.
	OnRun func(Result)

	mu      sync.Mutex
	running bool
	lastRun Result
}

// NextRun computes the next activation of spec after from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	parsed, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return time.Time{}, err
	}
	return parsed.Next(from), nil
}

// NewRestartScheduler validates spec. timeout bounds a single restart.
func NewRestartScheduler(target Restarter, spec string, timeout time.Duration) (*RestartScheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("restart schedule is empty")
	}

	s := &RestartScheduler{
		target:  target,
		spec:    spec,
		timeout: timeout,
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid restart schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *RestartScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	log.Printf("[Schedule] Restart schedule %q active, next run %s", s.spec, s.Next().Format(time.RFC3339))
}

// Stop halts the schedule and waits for a restart in progress.
func (s *RestartScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	log.Printf("[Schedule] Restart schedule stopped")
}

// Next returns the next scheduled run.
func (s *RestartScheduler) Next() time.Time {
	next, _ := NextRun(s.spec, time.Now())
	return next
}

// LastRun returns the most recent outcome.
func (s *RestartScheduler) LastRun() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// RunOnce restarts the server if it is running. A stopped server is skipped.
func (s *RestartScheduler) RunOnce(ctx context.Context) Result {
	result := Result{At: time.Now()}

	if s.target.Snapshot().State != server.StateRunning {
		result.Skipped = true
		log.Printf("[Schedule] Server is stopped, skipping scheduled restart")
		s.finish(result)
		return result
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log.Printf("[Schedule] Running scheduled restart")
	session, err := s.target.Restart(ctx)
	result.Session = session
	result.Err = err
	if err != nil {
		log.Printf("[Schedule] Scheduled restart failed: %v", err)
	} else {
		log.Printf("[Schedule] Scheduled restart complete, pid %d", session.PID)
	}

	s.finish(result)
	return result
}

func (s *RestartScheduler) finish(result Result) {
	s.mu.Lock()
	s.lastRun = result
	s.mu.Unlock()
	if s.OnRun != nil {
		s.OnRun(result)
	}
}
