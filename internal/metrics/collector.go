package metrics

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/config"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/database"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/server"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/websocket"
)

// Sampler is the part of the controller the collector polls.
type Sampler interface {
	PollMetrics(ctx context.Context) server.MetricsSnapshot
	Snapshot() server.Session
	Alive() bool
}

// Publisher pushes messages to websocket rooms.
type Publisher interface {
	Publish(room, msgType string, payload interface{})
}

// Sample is what the collector broadcasts on every tick.
type Sample struct {
	server.MetricsSnapshot
	State server.State `json:"state"`
	Alive bool         `json:"alive"`
}

type Collector struct {
	cfg       config.MetricsConfig
	serverID  string
	sampler   Sampler
	db        *database.DB
	publisher Publisher
	gauges    *Gauges

	// OnSample receives every sample after it is recorded.
	OnSample func(Sample)

	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	mu           sync.Mutex
	latest       Sample
	lastRecorded time.Time
	lastCleanup  time.Time
	lastAlive    bool
}

func NewCollector(cfg config.MetricsConfig, serverID string, sampler Sampler, db *database.DB, publisher Publisher, gauges *Gauges) *Collector {
	return &Collector{
		cfg:       cfg,
		serverID:  serverID,
		sampler:   sampler,
		db:        db,
		publisher: publisher,
		gauges:    gauges,
		stopCh:    make(chan struct{}),
	}
}

func (c *Collector) Start() {
	if !c.cfg.Enabled {
		return
	}

	interval := time.Duration(c.cfg.Interval) * time.Second
	if interval <= 0 {
		interval = time.Second
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				c.Collect(ctx, now)
				cancel()
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Latest returns the most recent sample.
func (c *Collector) Latest() Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Collect takes one sample and fans it out to storage, gauges and websocket clients.
func (c *Collector) Collect(ctx context.Context, now time.Time) Sample {
	session := c.sampler.Snapshot()
	sample := Sample{State: session.State}
	if session.State == server.StateRunning {
		sample.MetricsSnapshot = c.sampler.PollMetrics(ctx)
		sample.Alive = c.sampler.Alive()
	} else {
		sample.SampledAt = now
	}

	c.gauges.Observe(sample)

	c.mu.Lock()
	c.latest = sample
	aliveChanged := sample.Alive != c.lastAlive
	c.lastAlive = sample.Alive
	record := c.shouldRecord(now)
	c.mu.Unlock()

	if record {
		c.record(sample, now)
	}

	if c.publisher != nil {
		c.publisher.Publish(websocket.RoomMetrics, websocket.TypeMetrics, sample)
		if aliveChanged {
			c.publisher.Publish(websocket.RoomStatus, websocket.TypeStatus, map[string]interface{}{
				"session": session,
				"alive":   sample.Alive,
			})
		}
	}

	if c.OnSample != nil {
		c.OnSample(sample)
	}

	c.cleanupOldMetrics(now)
	return sample
}

func (c *Collector) shouldRecord(now time.Time) bool {
	interval := time.Duration(c.cfg.RecordInterval) * time.Second
	if c.lastRecorded.IsZero() || now.Sub(c.lastRecorded) >= interval {
		c.lastRecorded = now
		return true
	}
	return false
}

func (c *Collector) record(sample Sample, now time.Time) {
	if c.db == nil || !sample.Available {
		return
	}
	err := c.db.InsertMetric(c.serverID, database.MetricRecord{
		Timestamp:  now,
		CPUUsage:   sample.CPUPercent,
		MemoryUsed: sample.MemoryBytes,
		Status:     string(sample.State),
	})
	if err != nil {
		log.Printf("[Metrics] Failed to record sample: %v", err)
	}
}

func (c *Collector) cleanupOldMetrics(now time.Time) {
	if c.db == nil || c.cfg.RetentionDays <= 0 {
		return
	}

	c.mu.Lock()
	if !c.lastCleanup.IsZero() && now.Sub(c.lastCleanup) < time.Hour {
		c.mu.Unlock()
		return
	}
	c.lastCleanup = now
	c.mu.Unlock()

	cutoff := now.Add(-time.Duration(c.cfg.RetentionDays) * 24 * time.Hour)
	removed, err := c.db.DeleteMetricsBefore(cutoff)
	if err != nil {
		log.Printf("[Metrics] Failed to prune samples: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[Metrics] Pruned %d samples older than %d days", removed, c.cfg.RetentionDays)
	}
}

// Gauges exports the latest sample to Prometheus.
type Gauges struct {
	CPU     prometheus.Gauge
	Memory  prometheus.Gauge
	Up      prometheus.Gauge
	Samples *prometheus.CounterVec
}

// NewGauges creates the gauges and registers them with reg when it is non-nil.
func NewGauges(reg prometheus.Registerer) *Gauges {
	g := &Gauges{
		CPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gameserver_cpu_percent",
			Help: "CPU usage of the game server process (percent of one core)",
		}),
		Memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gameserver_memory_bytes",
			Help: "Resident memory of the game server process",
		}),
		Up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gameserver_up",
			Help: "Whether the game server process is alive (1) or not (0)",
		}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameserver_metric_samples_total",
			Help: "Metric samples taken, by availability",
		}, []string{"available"}),
	}
	if reg != nil {
		reg.MustRegister(g.CPU, g.Memory, g.Up, g.Samples)
	}
	return g
}

// Observe updates the gauges from a sample.
func (g *Gauges) Observe(sample Sample) {
	if g == nil {
		return
	}
	if sample.Alive {
		g.Up.Set(1)
	} else {
		g.Up.Set(0)
	}
	if sample.Available {
		g.CPU.Set(sample.CPUPercent)
		g.Memory.Set(float64(sample.MemoryBytes))
		g.Samples.WithLabelValues("true").Inc()
		return
	}
	g.CPU.Set(0)
	g.Memory.Set(0)
	g.Samples.WithLabelValues("false").Inc()
}
