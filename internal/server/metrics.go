package server

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// cpuSampleWindow is how long PollMetrics measures CPU usage.
const cpuSampleWindow = 100 * time.Millisecond

// MetricsSnapshot is one resource sample. Available is false whenever the
// process could not be measured, including when it exited mid-sample.
type MetricsSnapshot struct {
	Available   bool      `json:"available"`
	PID         int       `json:"pid,omitempty"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryBytes uint64    `json:"memory_bytes"`
	SampledAt   time.Time `json:"sampled_at"`
}

// PollMetrics samples CPU and resident memory of the tracked process.
// It never fails; any race with process exit yields an unavailable snapshot.
func (c *Controller) PollMetrics(ctx context.Context) MetricsSnapshot {
	snapshot := MetricsSnapshot{SampledAt: time.Now()}

	c.mu.RLock()
	p := c.proc
	c.mu.RUnlock()
	if p == nil || p.exited() {
		return snapshot
	}

	proc, err := process.NewProcessWithContext(ctx, int32(p.pid))
	if err != nil {
		return snapshot
	}
	if status, err := proc.StatusWithContext(ctx); err == nil {
		for _, s := range status {
			if s == process.Zombie {
				return snapshot
			}
		}
	}

	cpu, err := proc.PercentWithContext(ctx, cpuSampleWindow)
	if err != nil {
		return snapshot
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil || mem == nil {
		return snapshot
	}

	// The process may have died while we were sampling.
	if p.exited() {
		return snapshot
	}

	snapshot.Available = true
	snapshot.PID = p.pid
	snapshot.CPUPercent = cpu
	snapshot.MemoryBytes = mem.RSS
	snapshot.SampledAt = time.Now()
	return snapshot
}
