package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/api/middleware"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/config"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/logging"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/notify"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/schedule"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/state"
)

const webhookTestTimeout = 10 * time.Second

// Webhook is the notifier the settings page configures and tests.
type Webhook interface {
	SetURL(url string)
	Configured() bool
	NotifyColor(ctx context.Context, title, description string, color int) error
}

type SettingsHandler struct {
	mu         sync.Mutex
	cfg        *config.Config
	configPath string
	controller Controller
	webhook    Webhook
	state      *state.Store
	activity   *logging.ActivityLogger
}

// RCONSettings mirrors config.RCONConfig. The password is write-only.
type RCONSettings struct {
	Enabled     bool    `json:"enabled"`
	Host        string  `json:"host"`
	Port        int     `json:"port"`
	Timeout     string  `json:"timeout"`
	Password    *string `json:"password,omitempty"`
	PasswordSet bool    `json:"password_set"`
}

// SettingsPayload updates any subset of the editable sections. Empty process
// fields keep their current value, except restart_schedule where empty disables it.
type SettingsPayload struct {
	Webhook *config.WebhookConfig `json:"webhook"`
	RCON    *RCONSettings         `json:"rcon"`
	Process *config.ProcessConfig `json:"process"`
}

type SettingsResponse struct {
	Webhook         config.WebhookConfig `json:"webhook"`
	RCON            RCONSettings         `json:"rcon"`
	Process         config.ProcessConfig `json:"process"`
	RequiresRestart bool                 `json:"requires_restart"`
}

func NewSettingsHandler(cfg *config.Config, configPath string, controller Controller, webhook Webhook, store *state.Store, activity *logging.ActivityLogger) *SettingsHandler {
	if configPath == "" {
		configPath = config.GetConfigPath()
	}
	return &SettingsHandler{
		cfg:        cfg,
		configPath: configPath,
		controller: controller,
		webhook:    webhook,
		state:      store,
		activity:   activity,
	}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.JSON(http.StatusOK, h.responseLocked(false))
}

func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var payload SettingsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	updated := *h.cfg
	var sections []string
	requiresRestart := false

	if payload.Webhook != nil {
		webhook := *payload.Webhook
		webhook.URL = strings.TrimSpace(webhook.URL)
		if webhook.Enabled && webhook.URL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook URL is required when the webhook is enabled"})
			return
		}
		if webhook.Color == 0 {
			webhook.Color = notify.ColorGreen
		}
		updated.Webhook = webhook
		sections = append(sections, "webhook")
	}

	if payload.RCON != nil {
		rcon := updated.RCON
		rcon.Enabled = payload.RCON.Enabled
		rcon.Host = strings.TrimSpace(payload.RCON.Host)
		rcon.Port = payload.RCON.Port
		if payload.RCON.Timeout != "" {
			rcon.Timeout = payload.RCON.Timeout
		}
		if payload.RCON.Password != nil {
			rcon.Password = *payload.RCON.Password
		}
		if rcon.Enabled && rcon.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "RCON password is required when RCON is enabled"})
			return
		}
		if rcon.Enabled && (rcon.Port <= 0 || rcon.Port > 65535) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "RCON port must be between 1 and 65535"})
			return
		}
		if _, err := time.ParseDuration(rcon.Timeout); rcon.Timeout != "" && err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid RCON timeout", "details": err.Error()})
			return
		}
		updated.RCON = rcon
		sections = append(sections, "rcon")
		requiresRestart = true
	}

	if payload.Process != nil {
		process := *payload.Process
		process.Executable = strings.TrimSpace(process.Executable)
		process.RestartSchedule = strings.TrimSpace(process.RestartSchedule)
		if process.RestartSchedule != "" {
			if _, err := schedule.NextRun(process.RestartSchedule, time.Now()); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid restart schedule", "details": err.Error()})
				return
			}
		}
		for _, d := range []string{process.GracePeriod, process.KillTimeout} {
			if _, err := time.ParseDuration(d); d != "" && err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid duration", "details": err.Error()})
				return
			}
		}
		current := h.cfg.Process
		if process.Executable == "" {
			process.Executable = current.Executable
		}
		if process.GracePeriod == "" {
			process.GracePeriod = current.GracePeriod
		}
		if process.KillTimeout == "" {
			process.KillTimeout = current.KillTimeout
		}
		if process.BacklogLines <= 0 {
			process.BacklogLines = current.BacklogLines
		}
		if process.ConsoleLogRetentionDays <= 0 {
			process.ConsoleLogRetentionDays = current.ConsoleLogRetentionDays
		}
		if process.RestartSchedule != h.cfg.Process.RestartSchedule ||
			process.GracePeriod != h.cfg.Process.GracePeriod ||
			process.KillTimeout != h.cfg.Process.KillTimeout ||
			process.BacklogLines != h.cfg.Process.BacklogLines {
			requiresRestart = true
		}
		updated.Process = process
		sections = append(sections, "process")
	}

	if len(sections) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No settings provided"})
		return
	}

	if err := config.Save(&updated, h.configPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings", "details": err.Error()})
		return
	}
	*h.cfg = updated

	h.applyLocked(payload)

	if h.activity != nil {
		actor := middleware.Actor(c)
		for _, section := range sections {
			h.activity.LogConfigUpdate(h.controller.ServerID(), actor, section)
		}
	}

	c.JSON(http.StatusOK, h.responseLocked(requiresRestart))
}

// applyLocked pushes the settings that take effect without a panel restart.
func (h *SettingsHandler) applyLocked(payload SettingsPayload) {
	if payload.Webhook != nil {
		url := ""
		if h.cfg.Webhook.Enabled {
			url = h.cfg.Webhook.URL
		}
		if h.webhook != nil {
			h.webhook.SetURL(url)
		}
		if h.state != nil {
			h.state.Set(state.KeyDiscordWebhookURL, url)
			if err := h.state.Save(); err != nil {
				log.Printf("[Settings] Failed to persist webhook URL: %v", err)
			}
		}
	}

	if payload.Process != nil && h.cfg.Process.Executable != "" {
		if err := h.controller.SetExecutable(h.cfg.Process.Executable); err != nil {
			log.Printf("[Settings] Failed to apply executable: %v", err)
		}
	}
}

func (h *SettingsHandler) responseLocked(requiresRestart bool) SettingsResponse {
	return SettingsResponse{
		Webhook: h.cfg.Webhook,
		RCON: RCONSettings{
			Enabled:     h.cfg.RCON.Enabled,
			Host:        h.cfg.RCON.Host,
			Port:        h.cfg.RCON.Port,
			Timeout:     h.cfg.RCON.Timeout,
			PasswordSet: h.cfg.RCON.Password != "",
		},
		Process:         h.cfg.Process,
		RequiresRestart: requiresRestart,
	}
}

// TestWebhook sends a test notification through the configured webhook
func (h *SettingsHandler) TestWebhook(c *gin.Context) {
	if h.webhook == nil || !h.webhook.Configured() {
		c.JSON(http.StatusBadRequest, gin.H{"error": notify.ErrNotConfigured.Error()})
		return
	}

	h.mu.Lock()
	color := h.cfg.Webhook.Color
	h.mu.Unlock()
	if color == 0 {
		color = notify.ColorGreen
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), webhookTestTimeout)
	defer cancel()

	err := h.webhook.NotifyColor(ctx, "Test Notification", "Webhook is configured correctly.", color)
	if h.activity != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		h.activity.LogActivity(&logging.Activity{
			ServerID:     h.controller.ServerID(),
			Actor:        middleware.Actor(c),
			ActivityType: logging.ActivityWebhookDelivery,
			Description:  "Test Notification",
			Success:      err == nil,
			ErrorMessage: errMsg,
		})
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Webhook delivery failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Test notification sent"})
}
