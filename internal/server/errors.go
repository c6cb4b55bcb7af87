package server

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPath      = errors.New("executable path is empty")
	ErrEmptyCommand   = errors.New("command is empty")
	ErrInvalidCommand = errors.New("invalid command")
	ErrAlreadyRunning = errors.New("server is already running")
	ErrNotRunning     = errors.New("server is not running")
	ErrNotConfigured  = errors.New("no executable has been configured")
	ErrClosed         = errors.New("controller is shut down")
	ErrRunEnded       = errors.New("run has already ended")
)

// SpawnError reports a failed launch. The session stays stopped.
type SpawnError struct {
	Path   string
	Detail string
	Err    error
}

func (e *SpawnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to start %s: %s: %v", e.Path, e.Detail, e.Err)
	}
	return fmt.Sprintf("failed to start %s: %s", e.Path, e.Detail)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// TerminationWarning is a non-fatal OS error raised while stopping the process tree.
type TerminationWarning struct {
	PID    int32
	Detail string
	Err    error
}

func (w *TerminationWarning) Error() string {
	if w.Err != nil {
		return fmt.Sprintf("pid %d: %s: %v", w.PID, w.Detail, w.Err)
	}
	return fmt.Sprintf("pid %d: %s", w.PID, w.Detail)
}

func (w *TerminationWarning) Unwrap() error {
	return w.Err
}
