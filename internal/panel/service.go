// Package panel keeps the persisted server record, the status table, the
// activity log and outside notifications in step with the process controller.
package panel

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/console"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/database"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/logging"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/metrics"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/netinfo"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/notify"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/server"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/state"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/websocket"
)

// IPError is stored as the address when the lookup fails.
const IPError = "Error retrieving IP"

const (
	saveInterval  = 30 * time.Second
	lookupTimeout = 10 * time.Second
)

// Controller is the part of the process controller the panel follows.
type Controller interface {
	ServerID() string
	Snapshot() server.Session
	Alive() bool
	Events() (<-chan server.StateEvent, func())
	StreamOutput(runID string) (<-chan console.Line, func(), error)
}

// Notifier posts webhook messages.
type Notifier interface {
	Configured() bool
	NotifyColor(ctx context.Context, title, description string, color int) error
}

// IPResolver finds the host's public address.
type IPResolver interface {
	PublicIP(ctx context.Context) (string, error)
}

// Publisher pushes messages to websocket rooms.
type Publisher interface {
	Publish(room, msgType string, payload interface{})
}

// Options wires a Service. Everything except Controller and State is optional.
type Options struct {
	Controller Controller
	State      *state.Store
	DB         *database.DB
	Activity   *logging.ActivityLogger
	Notifier   Notifier
	Resolver   IPResolver
	Publisher  Publisher
	LogWriter  *console.LogWriter

	// WebhookTitle and WebhookDescription are used for the start notification.
	WebhookTitle       string
	WebhookDescription string
	// GameINI is read for the port and player slots on every start.
	GameINI string
}

// Status is what the API reports for the server.
type Status struct {
	Session server.Session               `json:"session"`
	Alive   bool                         `json:"alive"`
	State   map[string]string            `json:"state"`
	Record  *database.ServerStatusRecord `json:"record,omitempty"`
}

type Service struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(opts Options) *Service {
	if opts.WebhookTitle == "" {
		opts.WebhookTitle = "Server Started"
	}
	if opts.WebhookDescription == "" {
		opts.WebhookDescription = "The game server is now online."
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{opts: opts, ctx: ctx, cancel: cancel}
}

// Start subscribes to controller events. It returns immediately.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.ApplyGameINI()

		events, unsubscribe := s.opts.Controller.Events()
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			defer unsubscribe()
			s.run(events)
		}()
		go func() {
			defer s.wg.Done()
			s.saveLoop()
		}()
	})
}

// Stop ends event handling, waits for background work and saves the state file.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.save()
	})
}

// Status combines the live session with the persisted record.
func (s *Service) Status() Status {
	status := Status{
		Session: s.opts.Controller.Snapshot(),
		Alive:   s.opts.Controller.Alive(),
		State:   s.opts.State.All(),
	}
	if s.opts.DB != nil {
		rec, err := s.opts.DB.GetServerStatus(status.Session.ServerID)
		if err != nil {
			log.Printf("[Panel] Failed to load status record: %v", err)
		}
		status.Record = rec
	}
	return status
}

// HandleSample stores the latest usage figures. It is the collector's OnSample hook.
func (s *Service) HandleSample(sample metrics.Sample) {
	if !sample.Available {
		s.opts.State.Set(state.KeyCPUUsage, "")
		s.opts.State.Set(state.KeyMemoryUsage, "")
		return
	}
	s.opts.State.Set(state.KeyCPUUsage, FormatCPU(sample.CPUPercent))
	s.opts.State.Set(state.KeyMemoryUsage, FormatMemory(sample.MemoryBytes))
}

// FormatCPU renders a CPU percentage the way the state file stores it.
func FormatCPU(percent float64) string {
	return fmt.Sprintf("%.1f%%", percent)
}

// FormatMemory renders a byte count in megabytes with two decimals.
func FormatMemory(bytes uint64) string {
	return fmt.Sprintf("%.2f MB", float64(bytes)/(1024*1024))
}

// ApplyGameINI copies the port and player slots from the game's ini file.
func (s *Service) ApplyGameINI() {
	if s.opts.GameINI == "" {
		return
	}
	settings, err := netinfo.ReadGameINI(s.opts.GameINI)
	if err != nil {
		log.Printf("[Panel] Could not read game settings: %v", err)
		return
	}
	if settings.Port > 0 {
		s.opts.State.Set(state.KeyPort, strconv.Itoa(settings.Port))
	}
	if settings.MaxPlayers > 0 {
		s.opts.State.Set(state.KeyPlayerSlots, strconv.Itoa(settings.MaxPlayers))
	}
}

func (s *Service) run(events <-chan server.StateEvent) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.handle(event)
		}
	}
}

func (s *Service) handle(event server.StateEvent) {
	switch event.Type {
	case server.EventStarted:
		s.onStarted(event)
	case server.EventExited:
		s.onExited(event)
	case server.EventStopped:
		s.onStopped(event)
	}

	if s.opts.Publisher != nil {
		s.opts.Publisher.Publish(websocket.RoomStatus, websocket.TypeStatus, event)
	}
}

func (s *Service) onStarted(event server.StateEvent) {
	session := event.Session
	store := s.opts.State

	startedAt := event.At
	if session.LastStartTime != nil {
		startedAt = *session.LastStartTime
	}
	store.SetTime(state.KeyLastRestart, startedAt)
	store.Set(state.KeyLastExecutable, session.ExecutablePath)
	s.ApplyGameINI()
	s.save()

	s.writeStatus(session, "running", "")
	s.startRelay(session)

	s.background(func(ctx context.Context) {
		s.resolveIP(ctx)
		s.notify(ctx, s.opts.WebhookTitle, s.opts.WebhookDescription, notify.ColorGreen)
	})
}

func (s *Service) onExited(event server.StateEvent) {
	session := event.Session
	exit := event.Exit
	if exit == nil {
		exit = session.LastExit
	}

	if !event.Crashed {
		s.writeStatus(session, "exited", "")
		return
	}

	detail := "process exited"
	code := -1
	if exit != nil {
		detail = exit.Detail
		code = exit.Code
	}
	s.opts.State.SetTime(state.KeyLastCrash, event.At)
	s.save()
	s.writeStatus(session, "crashed", detail)

	if s.opts.Activity != nil {
		if err := s.opts.Activity.LogServerCrash(session.ServerID, code, detail); err != nil {
			log.Printf("[Panel] Failed to log crash: %v", err)
		}
	}

	s.background(func(ctx context.Context) {
		s.notify(ctx, "Server Crashed", detail, notify.ColorRed)
	})
}

func (s *Service) onStopped(event server.StateEvent) {
	session := event.Session
	store := s.opts.State

	if event.Crashed {
		if session.LastCrashTime != nil {
			store.SetTime(state.KeyLastCrash, *session.LastCrashTime)
		} else {
			store.SetTime(state.KeyLastCrash, event.At)
		}
	} else {
		if session.LastClosedTime != nil {
			store.SetTime(state.KeyLastClosed, *session.LastClosedTime)
		} else {
			store.SetTime(state.KeyLastClosed, event.At)
		}
	}
	store.Set(state.KeyCPUUsage, "")
	store.Set(state.KeyMemoryUsage, "")
	s.save()

	message := ""
	if len(event.Warnings) > 0 {
		message = event.Warnings[0]
	}
	s.writeStatus(session, string(server.StateStopped), message)
}

// startRelay copies the run's console output to the hub and the log file until the run ends.
func (s *Service) startRelay(session server.Session) {
	lines, cancel, err := s.opts.Controller.StreamOutput(session.RunID)
	if err != nil {
		log.Printf("[Panel] Console for run %s unavailable: %v", session.RunID, err)
		return
	}

	var sinks []console.LineSink
	if s.opts.Publisher != nil {
		publisher := s.opts.Publisher
		sinks = append(sinks, console.LineSinkFunc(func(line console.Line) error {
			publisher.Publish(websocket.RoomConsole, websocket.TypeConsoleOutput, line)
			return nil
		}))
	}
	if s.opts.LogWriter != nil {
		s.opts.LogWriter.BeginSession(session.RunID, session.ExecutablePath)
		sinks = append(sinks, s.opts.LogWriter)
	}

	relay := console.NewRelay(sinks...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		n := relay.Pump(s.ctx, lines)
		if s.opts.LogWriter != nil {
			s.opts.LogWriter.EndSession(session.RunID)
		}
		log.Printf("[Panel] Console relay for run %s finished after %d lines", session.RunID, n)
	}()
}

func (s *Service) resolveIP(ctx context.Context) {
	if s.opts.Resolver == nil {
		return
	}
	ip, err := s.opts.Resolver.PublicIP(ctx)
	if err != nil {
		log.Printf("[Panel] Public IP lookup failed: %v", err)
		ip = IPError
	}
	s.opts.State.Set(state.KeyIP, ip)
	s.save()
}

func (s *Service) notify(ctx context.Context, title, description string, color int) {
	if s.opts.Notifier == nil || !s.opts.Notifier.Configured() {
		return
	}
	err := s.opts.Notifier.NotifyColor(ctx, title, description, color)
	if err != nil {
		log.Printf("[Panel] Webhook delivery failed: %v", err)
	}
	if s.opts.Activity != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		s.opts.Activity.LogActivity(&logging.Activity{
			ServerID:     s.opts.Controller.ServerID(),
			Actor:        "system",
			ActivityType: logging.ActivityWebhookDelivery,
			Description:  title,
			Success:      err == nil,
			ErrorMessage: errMsg,
		})
	}
}

func (s *Service) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, lookupTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Service) writeStatus(session server.Session, status, message string) {
	if s.opts.DB == nil {
		return
	}
	err := s.opts.DB.UpsertServerStatus(database.ServerStatusRecord{
		ServerID:     session.ServerID,
		Status:       status,
		Executable:   session.ExecutablePath,
		PID:          session.PID,
		SessionID:    session.RunID,
		LastStarted:  session.LastStartTime,
		LastStopped:  session.LastStopTime,
		LastClosed:   session.LastClosedTime,
		LastCrash:    session.LastCrashTime,
		ErrorMessage: message,
	})
	if err != nil {
		log.Printf("[Panel] Failed to update server status: %v", err)
	}
}

func (s *Service) saveLoop() {
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.save()
		}
	}
}

func (s *Service) save() {
	if err := s.opts.State.Save(); err != nil {
		log.Printf("[Panel] Failed to save state: %v", err)
	}
}
