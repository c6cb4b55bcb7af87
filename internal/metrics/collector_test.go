package metrics

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/config"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/database"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/server"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/websocket"
)

type fakeSampler struct {
	state    server.State
	alive    bool
	snapshot server.MetricsSnapshot
	polls    int
}

func (f *fakeSampler) PollMetrics(ctx context.Context) server.MetricsSnapshot {
	f.polls++
	return f.snapshot
}

func (f *fakeSampler) Snapshot() server.Session {
	return server.Session{ServerID: "default", State: f.state}
}

func (f *fakeSampler) Alive() bool { return f.alive }

type published struct {
	room    string
	msgType string
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
}

func (f *fakePublisher) Publish(room, msgType string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{room: room, msgType: msgType})
}

func (f *fakePublisher) count(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.room == room {
			n++
		}
	}
	return n
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestCollectRunningServer(t *testing.T) {
	db := newTestDB(t)
	sampler := &fakeSampler{
		state: server.StateRunning,
		alive: true,
		snapshot: server.MetricsSnapshot{
			Available:   true,
			PID:         42,
			CPUPercent:  12.5,
			MemoryBytes: 2048,
		},
	}
	publisher := &fakePublisher{}
	gauges := NewGauges(prometheus.NewRegistry())
	cfg := config.MetricsConfig{Enabled: true, Interval: 1, RecordInterval: 60, RetentionDays: 1}

	c := NewCollector(cfg, "default", sampler, db, publisher, gauges)
	var hooked Sample
	c.OnSample = func(s Sample) { hooked = s }

	now := time.Now()
	sample := c.Collect(context.Background(), now)
	if !sample.Available || !sample.Alive {
		t.Fatalf("expected available sample, got %+v", sample)
	}
	if hooked.CPUPercent != 12.5 {
		t.Fatalf("expected OnSample to receive sample, got %+v", hooked)
	}
	if got := testutil.ToFloat64(gauges.CPU); got != 12.5 {
		t.Fatalf("expected cpu gauge 12.5, got %v", got)
	}
	if got := testutil.ToFloat64(gauges.Up); got != 1 {
		t.Fatalf("expected up gauge 1, got %v", got)
	}

	// Second tick inside the record interval must not add a row.
	c.Collect(context.Background(), now.Add(time.Second))

	rows, err := db.RecentMetrics("default", 10)
	if err != nil {
		t.Fatalf("failed to query metrics: %v", err)
	}
	if len(rows) != 1 || rows[0].MemoryUsed != 2048 {
		t.Fatalf("expected one recorded row, got %+v", rows)
	}

	if publisher.count(websocket.RoomMetrics) != 2 {
		t.Fatalf("expected a metrics message per tick")
	}
	if publisher.count(websocket.RoomStatus) != 1 {
		t.Fatalf("expected one status message for the liveness change")
	}
	if c.Latest().PID != 42 {
		t.Fatalf("expected latest sample to be kept")
	}
}

func TestCollectStoppedServerSkipsPolling(t *testing.T) {
	sampler := &fakeSampler{state: server.StateStopped}
	gauges := NewGauges(nil)
	c := NewCollector(config.MetricsConfig{Enabled: true}, "default", sampler, nil, nil, gauges)

	sample := c.Collect(context.Background(), time.Now())
	if sample.Available || sample.Alive {
		t.Fatalf("expected unavailable sample, got %+v", sample)
	}
	if sampler.polls != 0 {
		t.Fatalf("expected no process polling while stopped")
	}
	if got := testutil.ToFloat64(gauges.Up); got != 0 {
		t.Fatalf("expected up gauge 0, got %v", got)
	}
}

func TestCollectDetectsDeadProcess(t *testing.T) {
	sampler := &fakeSampler{
		state:    server.StateRunning,
		alive:    true,
		snapshot: server.MetricsSnapshot{Available: true, CPUPercent: 1},
	}
	publisher := &fakePublisher{}
	c := NewCollector(config.MetricsConfig{Enabled: true}, "default", sampler, nil, publisher, NewGauges(nil))

	c.Collect(context.Background(), time.Now())
	sampler.alive = false
	sampler.snapshot = server.MetricsSnapshot{}
	sample := c.Collect(context.Background(), time.Now())

	if sample.Available || sample.Alive {
		t.Fatalf("expected dead process sample, got %+v", sample)
	}
	if publisher.count(websocket.RoomStatus) != 2 {
		t.Fatalf("expected status message on each liveness change")
	}
}

func TestStartStop(t *testing.T) {
	sampler := &fakeSampler{state: server.StateStopped}
	c := NewCollector(config.MetricsConfig{Enabled: true, Interval: 1}, "default", sampler, nil, nil, NewGauges(nil))
	c.Start()
	c.Stop()
	c.Stop()
}
