package schedule

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultMaintenanceSchedule runs housekeeping shortly after midnight.
const DefaultMaintenanceSchedule = "15 0 * * *"

// Job is one housekeeping task.
type Job struct {
	Name string
	Run  func() error
}

// Maintenance runs retention cleanups on a cron schedule.
type Maintenance struct {
	spec string
	cron *cron.Cron

	mu      sync.Mutex
	jobs    []Job
	running bool
}

func NewMaintenance(spec string) (*Maintenance, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultMaintenanceSchedule
	}
	m := &Maintenance{
		spec: spec,
		cron: cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := m.cron.AddFunc(spec, func() { m.RunAll() }); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	return m, nil
}

// Add registers a job. Jobs run in the order they were added.
func (m *Maintenance) Add(name string, run func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, Job{Name: name, Run: run})
}

// RunAll runs every job once and returns how many failed.
func (m *Maintenance) RunAll() int {
	m.mu.Lock()
	jobs := append([]Job(nil), m.jobs...)
	m.mu.Unlock()

	failed := 0
	for _, job := range jobs {
		if err := job.Run(); err != nil {
			failed++
			log.Printf("[Maintenance] %s failed: %v", job.Name, err)
		}
	}
	return failed
}

func (m *Maintenance) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.cron.Start()
	log.Printf("[Maintenance] %d jobs scheduled with %q", len(m.jobs), m.spec)
}

func (m *Maintenance) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()
	<-m.cron.Stop().Done()
}
