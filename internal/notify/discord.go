package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Embed colours.
const (
	ColorGreen = 65280
	ColorRed   = 16711680
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = fmt.Errorf("discord webhook URL is not configured")

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type payload struct {
	Content string  `json:"content"`
	Embeds  []embed `json:"embeds"`
}

// Discord sends notifications to a Discord webhook.
type Discord struct {
	Client *http.Client

	mu  sync.RWMutex
	url string
}

// NewDiscord creates a notifier. An empty URL leaves it unconfigured.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		Client: &http.Client{Timeout: 5 * time.Second},
		url:    strings.TrimSpace(webhookURL),
	}
}

// SetURL replaces the webhook URL.
func (d *Discord) SetURL(webhookURL string) {
	d.mu.Lock()
	d.url = strings.TrimSpace(webhookURL)
	d.mu.Unlock()
}

func (d *Discord) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url
}

// Configured reports whether a webhook URL is set.
func (d *Discord) Configured() bool {
	return d.URL() != ""
}

// Notify posts a green embed.
func (d *Discord) Notify(ctx context.Context, title, description string) error {
	return d.NotifyColor(ctx, title, description, ColorGreen)
}

// NotifyColor posts the title as message content plus one embed in the given colour.
func (d *Discord) NotifyColor(ctx context.Context, title, description string, color int) error {
	url := d.URL()
	if url == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload{
		Content: title,
		Embeds:  []embed{{Title: title, Description: description, Color: color}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send discord notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord notification failed with status: %d", resp.StatusCode)
	}
	return nil
}
