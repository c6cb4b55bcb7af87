package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ServerStatusRecord mirrors one row of server_status
type ServerStatusRecord struct {
	ServerID     string     `json:"server_id"`
	Status       string     `json:"status"`
	Executable   string     `json:"executable,omitempty"`
	PID          int        `json:"pid,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	LastStarted  *time.Time `json:"last_started,omitempty"`
	LastStopped  *time.Time `json:"last_stopped,omitempty"`
	LastClosed   *time.Time `json:"last_closed,omitempty"`
	LastCrash    *time.Time `json:"last_crash,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MetricRecord is one stored CPU/RSS sample
type MetricRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUUsage   float64   `json:"cpu_usage"`
	MemoryUsed uint64    `json:"memory_used"`
	Status     string    `json:"status"`
}

// UpsertServerStatus writes the full status row for a server
func (db *DB) UpsertServerStatus(rec ServerStatusRecord) error {
	_, err := db.Exec(`
		INSERT INTO server_status (
			server_id, status, executable, pid, session_id,
			last_started, last_stopped, last_closed, last_crash, error_message, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(server_id) DO UPDATE SET
			status = excluded.status,
			executable = excluded.executable,
			pid = excluded.pid,
			session_id = excluded.session_id,
			last_started = excluded.last_started,
			last_stopped = excluded.last_stopped,
			last_closed = excluded.last_closed,
			last_crash = excluded.last_crash,
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP
	`,
		rec.ServerID, rec.Status, nullString(rec.Executable), nullInt(rec.PID), nullString(rec.SessionID),
		nullTime(rec.LastStarted), nullTime(rec.LastStopped), nullTime(rec.LastClosed), nullTime(rec.LastCrash),
		nullString(rec.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert server status: %w", err)
	}
	return nil
}

// GetServerStatus loads the status row. It returns (nil, nil) when no row exists yet.
func (db *DB) GetServerStatus(serverID string) (*ServerStatusRecord, error) {
	row := db.QueryRow(`
		SELECT server_id, status, executable, pid, session_id,
		       last_started, last_stopped, last_closed, last_crash, error_message, updated_at
		FROM server_status WHERE server_id = ?
	`, serverID)

	var rec ServerStatusRecord
	var executable, sessionID, errorMessage sql.NullString
	var pid sql.NullInt64
	var started, stopped, closed, crash sql.NullTime

	err := row.Scan(&rec.ServerID, &rec.Status, &executable, &pid, &sessionID,
		&started, &stopped, &closed, &crash, &errorMessage, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load server status: %w", err)
	}

	rec.Executable = executable.String
	rec.SessionID = sessionID.String
	rec.ErrorMessage = errorMessage.String
	rec.PID = int(pid.Int64)
	rec.LastStarted = timePtr(started)
	rec.LastStopped = timePtr(stopped)
	rec.LastClosed = timePtr(closed)
	rec.LastCrash = timePtr(crash)
	return &rec, nil
}

// InsertMetric stores one sample
func (db *DB) InsertMetric(serverID string, rec MetricRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO server_metrics (server_id, timestamp, cpu_usage, memory_used, status)
		VALUES (?, ?, ?, ?, ?)
	`, serverID, rec.Timestamp, rec.CPUUsage, int64(rec.MemoryUsed), rec.Status)
	if err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	return nil
}

// RecentMetrics returns up to limit samples, oldest first
func (db *DB) RecentMetrics(serverID string, limit int) ([]MetricRecord, error) {
	if limit <= 0 {
		limit = 60
	}
	rows, err := db.Query(`
		SELECT timestamp, cpu_usage, memory_used, status FROM (
			SELECT id, timestamp, cpu_usage, memory_used, status
			FROM server_metrics
			WHERE server_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) ORDER BY timestamp ASC, id ASC
	`, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	records := make([]MetricRecord, 0, limit)
	for rows.Next() {
		var rec MetricRecord
		var memory sql.NullInt64
		var cpu sql.NullFloat64
		var status sql.NullString
		if err := rows.Scan(&rec.Timestamp, &cpu, &memory, &status); err != nil {
			return nil, err
		}
		rec.CPUUsage = cpu.Float64
		if memory.Int64 > 0 {
			rec.MemoryUsed = uint64(memory.Int64)
		}
		rec.Status = status.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteMetricsBefore prunes samples older than cutoff and returns how many were removed
func (db *DB) DeleteMetricsBefore(cutoff time.Time) (int64, error) {
	result, err := db.Exec(`DELETE FROM server_metrics WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune metrics: %w", err)
	}
	return result.RowsAffected()
}

func nullString(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullInt(value int) interface{} {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(value *time.Time) interface{} {
	if value == nil || value.IsZero() {
		return nil
	}
	return *value
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
