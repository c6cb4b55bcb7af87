package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/console"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/logging"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/server"
)

// Controller is the process controller as the API sees it.
type Controller interface {
	ServerID() string
	Snapshot() server.Session
	Alive() bool
	ConfiguredPath() string
	SetExecutable(path string) error
	Start(ctx context.Context, path string) (server.Session, error)
	StartConfigured(ctx context.Context) (server.Session, error)
	Stop(ctx context.Context) (*server.StopReport, error)
	Restart(ctx context.Context) (server.Session, error)
	Dispatch(ctx context.Context, text string) (server.DispatchResult, error)
	Backlog(n int) []console.Line
}

// errorStatus maps controller errors to HTTP status codes.
func errorStatus(err error) int {
	var spawnErr *server.SpawnError
	switch {
	case errors.Is(err, server.ErrEmptyPath),
		errors.Is(err, server.ErrEmptyCommand),
		errors.Is(err, server.ErrInvalidCommand),
		errors.Is(err, server.ErrNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, server.ErrAlreadyRunning),
		errors.Is(err, server.ErrNotRunning),
		errors.Is(err, server.ErrRunEnded):
		return http.StatusConflict
	case errors.Is(err, server.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &spawnErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

// queryInt reads a positive integer query value, falling back to def and capping at max.
func queryInt(c *gin.Context, key string, def, max int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// dispatcher sends console commands and records them in history and the activity log.
type dispatcher struct {
	controller Controller
	history    *console.CommandHistory
	activity   *logging.ActivityLogger
}

func (d *dispatcher) run(ctx context.Context, actor, text string) (server.DispatchResult, error) {
	result, err := d.controller.Dispatch(ctx, text)
	if result.Channel == "" {
		// Rejected before reaching the server.
		return result, err
	}

	serverID := d.controller.ServerID()
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if d.history != nil {
		if recErr := d.history.Record(serverID, actor, result.Command, result.Channel, err == nil, result.Output); recErr != nil {
			log.Printf("[Console] Failed to record command: %v", recErr)
		}
	}
	if d.activity != nil {
		d.activity.LogCommandExecute(serverID, actor, result.Command, result.Channel, err == nil, result.Output, errMsg)
	}
	return result, err
}
