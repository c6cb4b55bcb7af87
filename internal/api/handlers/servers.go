package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/api/middleware"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/console"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/database"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/logging"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/metrics"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/panel"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/state"
)

// StatusProvider reports the combined server status.
type StatusProvider interface {
	Status() panel.Status
}

// LatestSampler returns the most recent resource sample.
type LatestSampler interface {
	Latest() metrics.Sample
}

// ServerHandler handles lifecycle, command and monitoring requests
type ServerHandler struct {
	controller Controller
	status     StatusProvider
	state      *state.Store
	db         *database.DB
	sampler    LatestSampler
	activity   *logging.ActivityLogger
	dispatch   *dispatcher
	pendingOps sync.WaitGroup
}

type startRequest struct {
	Executable string `json:"executable"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type executableRequest struct {
	Path string `json:"path"`
}

// NewServerHandler creates a new server handler
func NewServerHandler(
	controller Controller,
	status StatusProvider,
	store *state.Store,
	db *database.DB,
	sampler LatestSampler,
	history *console.CommandHistory,
	activity *logging.ActivityLogger,
) *ServerHandler {
	return &ServerHandler{
		controller: controller,
		status:     status,
		state:      store,
		db:         db,
		sampler:    sampler,
		activity:   activity,
		dispatch:   &dispatcher{controller: controller, history: history, activity: activity},
	}
}

// WaitForCompletion waits for lifecycle requests still in flight
func (h *ServerHandler) WaitForCompletion() {
	h.pendingOps.Wait()
}

// operation detaches a lifecycle call from the request so a dropped client
// cannot abandon a half-finished start or stop.
func (h *ServerHandler) operation(c *gin.Context) (context.Context, func()) {
	h.pendingOps.Add(1)
	return context.WithoutCancel(c.Request.Context()), h.pendingOps.Done
}

// GetStatus returns the session snapshot with the persisted record
func (h *ServerHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Status())
}

// StartServer starts the given executable, or the configured one when the body omits it
func (h *ServerHandler) StartServer(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ctx, done := h.operation(c)
	defer done()

	actor := middleware.Actor(c)
	path := strings.TrimSpace(req.Executable)

	var err error
	if path != "" {
		_, err = h.controller.Start(ctx, path)
	} else {
		path = h.controller.ConfiguredPath()
		_, err = h.controller.StartConfigured(ctx)
	}

	if h.activity != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		h.activity.LogServerStart(h.controller.ServerID(), actor, path, err == nil, errMsg)
	}
	if err != nil {
		log.Printf("[Server] Start requested by %s failed: %v", actor, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Server started", "session": h.controller.Snapshot()})
}

// StopServer stops the server and reports how the process tree went down
func (h *ServerHandler) StopServer(c *gin.Context) {
	ctx, done := h.operation(c)
	defer done()

	actor := middleware.Actor(c)
	report, err := h.controller.Stop(ctx)
	warnings := report.WarningStrings()

	if h.activity != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		forced := report != nil && report.Forced
		h.activity.LogServerStop(h.controller.ServerID(), actor, forced, warnings, err == nil, errMsg)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if warnings == nil {
		warnings = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Server stopped",
		"session":  report.Session,
		"forced":   report.Forced,
		"crashed":  report.Crashed,
		"exit":     report.Exit,
		"warnings": warnings,
	})
}

// RestartServer stops the server if needed and starts the configured executable
func (h *ServerHandler) RestartServer(c *gin.Context) {
	ctx, done := h.operation(c)
	defer done()

	actor := middleware.Actor(c)
	session, err := h.controller.Restart(ctx)

	if h.activity != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		h.activity.LogServerRestart(h.controller.ServerID(), actor, err == nil, errMsg)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Server restarted", "session": session})
}

// ExecuteCommand sends one console command to the running server
func (h *ServerHandler) ExecuteCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.dispatch.run(c.Request.Context(), middleware.Actor(c), req.Command)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SetExecutable configures the executable for later starts without launching it
func (h *ServerHandler) SetExecutable(c *gin.Context) {
	var req executableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.controller.SetExecutable(req.Path); err != nil {
		respondError(c, err)
		return
	}

	path := h.controller.ConfiguredPath()
	h.state.Set(state.KeyLastExecutable, path)
	if err := h.state.Save(); err != nil {
		log.Printf("[Server] Failed to persist executable: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist executable", "details": err.Error()})
		return
	}
	if h.activity != nil {
		h.activity.LogConfigUpdate(h.controller.ServerID(), middleware.Actor(c), "executable")
	}

	c.JSON(http.StatusOK, gin.H{"executable": path})
}

// GetMetrics returns the latest resource sample
func (h *ServerHandler) GetMetrics(c *gin.Context) {
	if h.sampler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Metrics collection is disabled"})
		return
	}
	c.JSON(http.StatusOK, h.sampler.Latest())
}

// GetMetricsHistory returns the most recent stored samples in time order
func (h *ServerHandler) GetMetricsHistory(c *gin.Context) {
	limit := queryInt(c, "limit", 60, 1000)
	records, err := h.db.RecentMetrics(h.controller.ServerID(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load metrics", "details": err.Error()})
		return
	}
	if records == nil {
		records = []database.MetricRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"metrics": records})
}

// GetActivity returns the activity log, newest first, with per-type counts for the last day
func (h *ServerHandler) GetActivity(c *gin.Context) {
	if h.activity == nil {
		c.JSON(http.StatusOK, gin.H{"activities": []*logging.Activity{}})
		return
	}

	limit := queryInt(c, "limit", 50, 500)
	activities, err := h.activity.GetActivities(h.controller.ServerID(), c.Query("type"), time.Time{}, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load activity", "details": err.Error()})
		return
	}
	if activities == nil {
		activities = []*logging.Activity{}
	}
	stats, err := h.activity.GetActivityStats(h.controller.ServerID(), time.Now().Add(-24*time.Hour))
	if err != nil {
		log.Printf("[Server] Failed to load activity stats: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"activities": activities, "last_24h": stats})
}
