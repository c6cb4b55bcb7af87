package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMissingFileDefaultsToNotAvailable(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "server_state.json"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if got := store.Get(KeyIP); got != NotAvailable {
		t.Fatalf("expected N/A for unset key, got %q", got)
	}
	if got := store.Get("something_unknown"); got != NotAvailable {
		t.Fatalf("expected N/A for unknown key, got %q", got)
	}

	all := store.All()
	for _, key := range KnownKeys {
		if all[key] != NotAvailable {
			t.Fatalf("expected %s to default to N/A, got %q", key, all[key])
		}
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server_state.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	started := time.Date(2026, 3, 14, 15, 9, 26, 0, time.Local)
	store.Set(KeyLastExecutable, "/srv/game/start-server.sh")
	store.Set(KeyPort, "16261")
	store.SetTime(KeyLastRestart, started)
	if err := store.Save(); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read state file: %v", err)
	}
	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("state file is not a flat JSON object: %v", err)
	}
	if raw[KeyLastCrash] != NotAvailable {
		t.Fatalf("expected unset keys to be written as N/A, got %q", raw[KeyLastCrash])
	}
	if raw[KeyLastRestart] != "2026-03-14 15:09:26" {
		t.Fatalf("unexpected timestamp format: %q", raw[KeyLastRestart])
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	if reloaded.Get(KeyLastExecutable) != "/srv/game/start-server.sh" {
		t.Fatalf("executable not persisted: %q", reloaded.Get(KeyLastExecutable))
	}
	if !reloaded.Has(KeyPort) {
		t.Fatalf("expected port to be set after reload")
	}
	if reloaded.Has(KeyLastCrash) {
		t.Fatalf("expected N/A on disk to read back as unset")
	}
	restarted, ok := reloaded.Time(KeyLastRestart)
	if !ok || !restarted.Equal(started) {
		t.Fatalf("expected %v, got %v (ok=%v)", started, restarted, ok)
	}
}

func TestCorruptFileIsMovedAside(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatalf("expected corrupt file to be tolerated: %v", err)
	}
	if store.Get(KeyIP) != NotAvailable {
		t.Fatalf("expected fresh store after corrupt file")
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("expected corrupt file to be preserved: %v", err)
	}
}

func TestNonStringValuesAreStringified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_state.json")
	if err := os.WriteFile(path, []byte(`{"port": 16261, "ip": null}`), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if store.Get(KeyPort) != "16261" {
		t.Fatalf("expected numeric port to be read as string, got %q", store.Get(KeyPort))
	}
	if store.Get(KeyIP) != NotAvailable {
		t.Fatalf("expected null to read as N/A")
	}
}

func TestSaveSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_state.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected clean store not to create a file")
	}

	store.Set(KeyIP, "203.0.113.7")
	store.Set(KeyIP, "")
	if store.Get(KeyIP) != NotAvailable {
		t.Fatalf("expected empty value to reset key")
	}
}
