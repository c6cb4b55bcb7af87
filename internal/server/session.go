package server

import (
	"os"
	"time"
)

// State of the managed process as seen by the operator.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Session is an immutable snapshot of the controller's session record.
type Session struct {
	ServerID       string     `json:"server_id"`
	RunID          string     `json:"run_id,omitempty"`
	ExecutablePath string     `json:"executable_path,omitempty"`
	State          State      `json:"state"`
	PID            int        `json:"pid,omitempty"`
	LastStartTime  *time.Time `json:"last_start_time,omitempty"`
	LastStopTime   *time.Time `json:"last_stop_time,omitempty"`
	LastClosedTime *time.Time `json:"last_closed_time,omitempty"`
	LastCrashTime  *time.Time `json:"last_crash_time,omitempty"`
	LastExit       *ExitInfo  `json:"last_exit,omitempty"`
}

// ExitInfo describes how a run ended.
type ExitInfo struct {
	Code     int       `json:"code"`
	Signaled bool      `json:"signaled"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Clean reports a zero exit code without a signal.
func (e ExitInfo) Clean() bool {
	return !e.Signaled && e.Code == 0
}

func exitInfoFrom(state *os.ProcessState, waitErr error) ExitInfo {
	info := ExitInfo{Code: -1, At: time.Now()}
	if state != nil {
		info.Code = state.ExitCode()
		info.Signaled = !state.Exited()
		info.Detail = state.String()
		return info
	}
	if waitErr != nil {
		info.Detail = waitErr.Error()
	}
	return info
}

// EventType names a state notification.
type EventType string

const (
	EventStarted EventType = "started"
	EventStopped EventType = "stopped"
	// EventExited fires when the process ends on its own while still Running.
	EventExited EventType = "exited"
)

// StateEvent is published on every lifecycle transition.
type StateEvent struct {
	Type     EventType `json:"type"`
	Session  Session   `json:"session"`
	Exit     *ExitInfo `json:"exit,omitempty"`
	Forced   bool      `json:"forced,omitempty"`
	Crashed  bool      `json:"crashed,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
	At       time.Time `json:"at"`
}

// StopReport summarises a completed stop.
type StopReport struct {
	Session  Session   `json:"session"`
	Forced   bool      `json:"forced"`
	Crashed  bool      `json:"crashed"`
	Exit     *ExitInfo `json:"exit,omitempty"`
	Warnings []error   `json:"-"`
}

// WarningStrings renders Warnings for logs and JSON responses.
func (r *StopReport) WarningStrings() []string {
	if r == nil || len(r.Warnings) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Error())
	}
	return out
}

func (s Session) clone() Session {
	out := s
	out.LastStartTime = copyTime(s.LastStartTime)
	out.LastStopTime = copyTime(s.LastStopTime)
	out.LastClosedTime = copyTime(s.LastClosedTime)
	out.LastCrashTime = copyTime(s.LastCrashTime)
	if s.LastExit != nil {
		exit := *s.LastExit
		out.LastExit = &exit
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
