package console

import (
	"database/sql"
	"fmt"
	"time"
)

// CommandHistory stores dispatched console commands
type CommandHistory struct {
	db *sql.DB
}

// CommandRecord represents a command history record
type CommandRecord struct {
	ID            int64     `json:"id"`
	ServerID      string    `json:"server_id"`
	Actor         string    `json:"actor"`
	Command       string    `json:"command"`
	Channel       string    `json:"channel"`
	ExecutedAt    time.Time `json:"executed_at"`
	Success       bool      `json:"success"`
	OutputPreview string    `json:"output_preview,omitempty"`
}

// NewCommandHistory creates a new command history manager
func NewCommandHistory(db *sql.DB) *CommandHistory {
	return &CommandHistory{db: db}
}

// Record stores one dispatched command
func (ch *CommandHistory) Record(serverID, actor, command, channel string, success bool, output string) error {
	var preview sql.NullString
	if output != "" {
		if len(output) > 500 {
			output = output[:500]
		}
		preview = sql.NullString{String: output, Valid: true}
	}

	_, err := ch.db.Exec(`
		INSERT INTO console_commands (server_id, actor, command, channel, success, output_preview)
		VALUES (?, ?, ?, ?, ?, ?)
	`, serverID, actor, command, channel, success, preview)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// GetRecentCommands returns recent commands for a server
func (ch *CommandHistory) GetRecentCommands(serverID string, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	return ch.query(`
		SELECT id, server_id, actor, command, channel, executed_at, success, output_preview
		FROM console_commands
		WHERE server_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, serverID, limit)
}

// SearchCommands searches command history
func (ch *CommandHistory) SearchCommands(serverID, query string, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	return ch.query(`
		SELECT id, server_id, actor, command, channel, executed_at, success, output_preview
		FROM console_commands
		WHERE server_id = ? AND command LIKE ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, serverID, "%"+query+"%", limit)
}

// GetAutocomplete returns previously used commands starting with prefix, most recent first
func (ch *CommandHistory) GetAutocomplete(serverID, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := ch.db.Query(`
		SELECT command
		FROM console_commands
		WHERE server_id = ? AND command LIKE ?
		GROUP BY command
		ORDER BY MAX(id) DESC
		LIMIT ?
	`, serverID, prefix+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suggestions := []string{}
	for rows.Next() {
		var cmd string
		if err := rows.Scan(&cmd); err != nil {
			return nil, err
		}
		suggestions = append(suggestions, cmd)
	}

	return suggestions, rows.Err()
}

func (ch *CommandHistory) query(query string, args ...interface{}) ([]CommandRecord, error) {
	rows, err := ch.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commands := []CommandRecord{}
	for rows.Next() {
		var cmd CommandRecord
		var actor, outputPreview sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.ServerID, &actor, &cmd.Command, &cmd.Channel, &cmd.ExecutedAt, &cmd.Success, &outputPreview); err != nil {
			return nil, err
		}
		cmd.Actor = actor.String
		cmd.OutputPreview = outputPreview.String
		commands = append(commands, cmd)
	}

	return commands, rows.Err()
}
