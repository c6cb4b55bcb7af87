package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDiscordNotify(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST request, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	if err := d.Notify(context.Background(), "Server Started", "The game server is now online."); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if got.Content != "Server Started" {
		t.Fatalf("unexpected content %q", got.Content)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("expected one embed, got %d", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Title != "Server Started" || e.Description != "The game server is now online." || e.Color != ColorGreen {
		t.Fatalf("unexpected embed %+v", e)
	}
}

func TestDiscordNotifyColor(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	if err := d.NotifyColor(context.Background(), "Server Crashed", "exit status 1", ColorRed); err != nil {
		t.Fatalf("NotifyColor failed: %v", err)
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Color != ColorRed {
		t.Fatalf("expected red embed, got %+v", got.Embeds)
	}
}

func TestDiscordNotifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewDiscord(srv.URL).Notify(context.Background(), "t", "d"); err == nil {
		t.Fatalf("expected error for non-2xx status")
	}
}

func TestDiscordNotConfigured(t *testing.T) {
	d := NewDiscord("  ")
	if d.Configured() {
		t.Fatalf("expected notifier to be unconfigured")
	}
	if err := d.Notify(context.Background(), "t", "d"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	d.SetURL("http://example.invalid/hook")
	if !d.Configured() || d.URL() != "http://example.invalid/hook" {
		t.Fatalf("expected URL to be set")
	}
}

func TestDiscordNotifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	d.Client.Timeout = 50 * time.Millisecond
	if err := d.Notify(context.Background(), "t", "d"); err == nil {
		t.Fatalf("expected timeout error")
	}
}
