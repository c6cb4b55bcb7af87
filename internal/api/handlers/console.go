package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/api/middleware"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/commands"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/console"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/logging"
	ws "github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/websocket"
)

const (
	defaultConsoleLines = 100
	commandTimeout      = 10 * time.Second
	clientSendBuffer    = 256
)

// ConsoleHandler serves console output, command history, suggestions and the console websocket
type ConsoleHandler struct {
	controller     Controller
	hub            *ws.Hub
	history        *console.CommandHistory
	catalog        *commands.Catalog
	dispatch       *dispatcher
	allowedOrigins []string
	backlogLines   int
}

type executePayload struct {
	Command string `json:"command"`
}

type commandResult struct {
	Command string `json:"command"`
	Channel string `json:"channel,omitempty"`
	Output  string `json:"output,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NewConsoleHandler creates a new console handler
func NewConsoleHandler(
	controller Controller,
	hub *ws.Hub,
	history *console.CommandHistory,
	catalog *commands.Catalog,
	activity *logging.ActivityLogger,
	allowedOrigins []string,
	backlogLines int,
) *ConsoleHandler {
	if backlogLines <= 0 {
		backlogLines = defaultConsoleLines
	}
	return &ConsoleHandler{
		controller:     controller,
		hub:            hub,
		history:        history,
		catalog:        catalog,
		dispatch:       &dispatcher{controller: controller, history: history, activity: activity},
		allowedOrigins: allowedOrigins,
		backlogLines:   backlogLines,
	}
}

// GetConsole returns buffered output of the current run, optionally filtered
func (h *ConsoleHandler) GetConsole(c *gin.Context) {
	lines := queryInt(c, "lines", defaultConsoleLines, h.backlogLines)

	filter, err := console.NewOutputFilter(c.Query("filter"), c.Query("pattern"), c.Query("case_sensitive") == "true")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter", "details": err.Error()})
		return
	}

	output := filter.FilterLines(h.controller.Backlog(lines))
	if output == nil {
		output = []console.Line{}
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": h.controller.Snapshot().RunID,
		"lines":      output,
	})
}

// GetCommandHistory returns recent commands, or those matching q
func (h *ConsoleHandler) GetCommandHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"commands": []console.CommandRecord{}})
		return
	}

	limit := queryInt(c, "limit", 50, 500)
	serverID := h.controller.ServerID()

	var (
		records []console.CommandRecord
		err     error
	)
	if query := strings.TrimSpace(c.Query("q")); query != "" {
		records, err = h.history.SearchCommands(serverID, query, limit)
	} else {
		records, err = h.history.GetRecentCommands(serverID, limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load command history", "details": err.Error()})
		return
	}
	if records == nil {
		records = []console.CommandRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"commands": records})
}

// SuggestCommands merges catalog and history matches for a prefix
func (h *ConsoleHandler) SuggestCommands(c *gin.Context) {
	prefix := strings.TrimSpace(c.Query("prefix"))
	limit := queryInt(c, "limit", 20, 200)

	suggestions := make([]string, 0, limit)
	seen := make(map[string]bool)
	add := func(cmd string) {
		key := strings.ToLower(cmd)
		if seen[key] || len(suggestions) >= limit {
			return
		}
		seen[key] = true
		suggestions = append(suggestions, cmd)
	}

	if h.catalog != nil {
		for _, cmd := range h.catalog.Suggest(prefix, limit) {
			add(cmd)
		}
	}
	if h.history != nil {
		recent, err := h.history.GetAutocomplete(h.controller.ServerID(), prefix, limit)
		if err != nil {
			log.Printf("[Console] History autocomplete failed: %v", err)
		}
		for _, cmd := range recent {
			add(cmd)
		}
	}

	c.JSON(http.StatusOK, gin.H{"prefix": prefix, "suggestions": suggestions})
}

// HandleConsoleWebSocket upgrades the request and joins the console, status and metrics rooms
func (h *ConsoleHandler) HandleConsoleWebSocket(c *gin.Context) {
	upgrader := buildUpgrader(h.allowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Console] Failed to upgrade WebSocket: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	client := &ws.Client{
		ID:      uuid.New().String(),
		Actor:   middleware.Actor(c),
		Conn:    conn,
		Rooms:   []string{ws.RoomConsole, ws.RoomStatus, ws.RoomMetrics},
		Send:    make(chan *ws.Message, clientSendBuffer),
		Hub:     h.hub,
		Handler: h.handleClientMessage,
	}

	h.hub.Register <- client

	// Live lines may repeat the tail of the backlog; clients dedupe on seq.
	backlog := h.controller.Backlog(h.backlogLines)
	if backlog == nil {
		backlog = []console.Line{}
	}
	client.SendMessage(ws.TypeConsoleBacklog, gin.H{
		"session_id": h.controller.Snapshot().RunID,
		"lines":      backlog,
	})
	client.SendMessage(ws.TypeStatus, gin.H{
		"session": h.controller.Snapshot(),
		"alive":   h.controller.Alive(),
	})

	go client.WritePump()
	go client.ReadPump()
}

func (h *ConsoleHandler) handleClientMessage(client *ws.Client, msg *ws.InboundMessage) {
	switch msg.Type {
	case ws.TypeExecuteCommand:
		var payload executePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			client.SendMessage(ws.TypeError, gin.H{"error": "invalid execute_command payload"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		result, err := h.dispatch.run(ctx, client.Actor, payload.Command)
		reply := commandResult{
			Command: payload.Command,
			Channel: result.Channel,
			Output:  result.Output,
			Success: err == nil,
		}
		if result.Command != "" {
			reply.Command = result.Command
		}
		if err != nil {
			reply.Error = err.Error()
		}
		client.SendMessage(ws.TypeCommandResult, reply)

	default:
		client.SendMessage(ws.TypeError, gin.H{"error": "unknown message type: " + msg.Type})
	}
}

func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return true
	}

	for _, allowedOrigin := range allowedOrigins {
		normalized := strings.TrimSpace(allowedOrigin)
		if normalized == "" {
			continue
		}
		if normalized == "*" || normalized == "0.0.0.0/0" || normalized == origin {
			return true
		}
	}

	return false
}
