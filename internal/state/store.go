// Package state persists the panel's flat key-value server record between runs.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// NotAvailable is returned for any key that has never been written.
const NotAvailable = "N/A"

// TimeLayout is used for every timestamp stored in the record.
const TimeLayout = "2006-01-02 15:04:05"

// Known keys.
const (
	KeyLastExecutable    = "last_executable"
	KeyIP                = "ip"
	KeyPort              = "port"
	KeyPlayerSlots       = "player_slots"
	KeyCPUUsage          = "cpu_usage"
	KeyMemoryUsage       = "memory_usage"
	KeyLastRestart       = "last_restart"
	KeyLastClosed        = "last_closed"
	KeyLastCrash         = "last_crash"
	KeyDiscordWebhookURL = "discord_webhook_url"
)

// KnownKeys lists the keys always present in All().
var KnownKeys = []string{
	KeyLastExecutable,
	KeyIP,
	KeyPort,
	KeyPlayerSlots,
	KeyCPUUsage,
	KeyMemoryUsage,
	KeyLastRestart,
	KeyLastClosed,
	KeyLastCrash,
	KeyDiscordWebhookURL,
}

// Store is a JSON-file backed map of strings.
type Store struct {
	path   string
	mu     sync.RWMutex
	values map[string]string
	dirty  bool
}

// Open loads the record at path. A missing file yields an empty store; a corrupt
// file is moved aside to <path>.corrupt and the store starts empty.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	raw := make(map[string]interface{})
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("[State] %s is not valid JSON, starting fresh: %v", path, err)
		if renameErr := os.Rename(path, path+".corrupt"); renameErr != nil {
			log.Printf("[State] Failed to move corrupt state aside: %v", renameErr)
		}
		return s, nil
	}

	for key, value := range raw {
		switch v := value.(type) {
		case string:
			s.values[key] = v
		case nil:
		default:
			s.values[key] = fmt.Sprint(v)
		}
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value for key or NotAvailable.
func (s *Store) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if value, ok := s.values[key]; ok && value != "" {
		return value
	}
	return NotAvailable
}

// Has reports whether key holds a real value.
func (s *Store) Has(key string) bool {
	return s.Get(key) != NotAvailable
}

// Set updates key in memory. Empty values reset the key to NotAvailable.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" || value == NotAvailable {
		if _, ok := s.values[key]; ok {
			delete(s.values, key)
			s.dirty = true
		}
		return
	}
	if s.values[key] != value {
		s.values[key] = value
		s.dirty = true
	}
}

// SetTime stores t using TimeLayout.
func (s *Store) SetTime(key string, t time.Time) {
	if t.IsZero() {
		s.Set(key, "")
		return
	}
	s.Set(key, t.Format(TimeLayout))
}

// Time parses a stored timestamp. ok is false for NotAvailable or malformed values.
func (s *Store) Time(key string) (time.Time, bool) {
	value := s.Get(key)
	if value == NotAvailable {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimeLayout, value, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// All returns a copy with every known key filled in.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.values)+len(KnownKeys))
	for _, key := range KnownKeys {
		out[key] = NotAvailable
	}
	for key, value := range s.values {
		out[key] = value
	}
	return out
}

// Save writes the record if it changed since the last save.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := s.writeLocked(); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *Store) writeLocked() error {
	out := make(map[string]string, len(s.values)+len(KnownKeys))
	for _, key := range KnownKeys {
		out[key] = NotAvailable
	}
	for key, value := range s.values {
		out[key] = value
	}

	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
