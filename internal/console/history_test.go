package console

import (
	"path/filepath"
	"testing"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/database"
)

func newHistoryDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestCommandHistoryRecordAndQuery(t *testing.T) {
	db := newHistoryDB(t)
	history := NewCommandHistory(db.DB)

	if err := history.Record("default", "admin", "save-all", "stdin", true, ""); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := history.Record("default", "admin", "say hi", "rcon", true, "ok"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := history.Record("other", "admin", "stop", "stdin", true, ""); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	recent, err := history.GetRecentCommands("default", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(recent))
	}
	if recent[0].Command != "say hi" || recent[0].Channel != "rcon" || recent[0].OutputPreview != "ok" {
		t.Fatalf("unexpected newest record: %+v", recent[0])
	}

	found, err := history.SearchCommands("default", "save", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(found) != 1 || found[0].Actor != "admin" {
		t.Fatalf("unexpected search result: %+v", found)
	}
}

func TestCommandHistoryAutocomplete(t *testing.T) {
	db := newHistoryDB(t)
	history := NewCommandHistory(db.DB)

	for _, cmd := range []string{"say one", "save-all", "say one", "kick bob"} {
		if err := history.Record("default", "", cmd, "stdin", true, ""); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	suggestions, err := history.GetAutocomplete("default", "sa", 10)
	if err != nil {
		t.Fatalf("autocomplete failed: %v", err)
	}
	if len(suggestions) != 2 {
		t.Fatalf("expected 2 distinct suggestions, got %v", suggestions)
	}
	if suggestions[0] != "say one" {
		t.Fatalf("expected most recent first, got %v", suggestions)
	}
}
