package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ActivityLogger records operator-visible server events to the database and a daily JSON-lines file.
type ActivityLogger struct {
	db          *sql.DB
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// Activity represents a logged activity
type Activity struct {
	Timestamp    time.Time              `json:"timestamp"`
	ServerID     string                 `json:"server_id"`
	Actor        string                 `json:"actor,omitempty"`
	ActivityType string                 `json:"activity_type"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// Activity type constants
const (
	ActivityServerStart     = "server.start"
	ActivityServerStop      = "server.stop"
	ActivityServerRestart   = "server.restart"
	ActivityServerCrash     = "server.crash"
	ActivityCommandExecute  = "command.execute"
	ActivityConfigUpdate    = "config.update"
	ActivityWebhookDelivery = "webhook.delivery"
)

// NewActivityLogger creates a new activity logger
func NewActivityLogger(db *sql.DB, logDir string) (*ActivityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	log.Printf("[ActivityLogger] Initialized (log directory: %s)", logDir)

	return &ActivityLogger{
		db:     db,
		logDir: logDir,
	}, nil
}

// LogActivity logs an activity to both database and file
func (al *ActivityLogger) LogActivity(activity *Activity) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now()
	}

	// A database failure must not lose the file record.
	if err := al.logToDatabase(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to database: %v", err)
	}

	if err := al.logToFile(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to file: %v", err)
		return err
	}

	return nil
}

// LogServerStart logs a server start attempt
func (al *ActivityLogger) LogServerStart(serverID, actor, executable string, success bool, errorMsg string) error {
	metadata := map[string]interface{}{
		"executable": executable,
	}
	if errorMsg != "" {
		metadata["error"] = errorMsg
	}

	return al.LogActivity(&Activity{
		ServerID:     serverID,
		Actor:        actor,
		ActivityType: ActivityServerStart,
		Description:  "Server start requested",
		Metadata:     metadata,
		Success:      success,
		ErrorMessage: errorMsg,
	})
}

// LogServerStop logs a server stop, noting whether escalation to a forced kill was needed
func (al *ActivityLogger) LogServerStop(serverID, actor string, forced bool, warnings []string, success bool, errorMsg string) error {
	metadata := map[string]interface{}{
		"forced": forced,
	}
	if len(warnings) > 0 {
		metadata["warnings"] = warnings
	}
	if errorMsg != "" {
		metadata["error"] = errorMsg
	}

	return al.LogActivity(&Activity{
		ServerID:     serverID,
		Actor:        actor,
		ActivityType: ActivityServerStop,
		Description:  fmt.Sprintf("Server stop requested (forced: %v)", forced),
		Metadata:     metadata,
		Success:      success,
		ErrorMessage: errorMsg,
	})
}

// LogServerRestart logs a server restart activity
func (al *ActivityLogger) LogServerRestart(serverID, actor string, success bool, errorMsg string) error {
	metadata := make(map[string]interface{})
	if errorMsg != "" {
		metadata["error"] = errorMsg
	}

	return al.LogActivity(&Activity{
		ServerID:     serverID,
		Actor:        actor,
		ActivityType: ActivityServerRestart,
		Description:  "Server restart requested",
		Metadata:     metadata,
		Success:      success,
		ErrorMessage: errorMsg,
	})
}

// LogServerCrash logs an exit the operator did not ask for
func (al *ActivityLogger) LogServerCrash(serverID string, exitCode int, detail string) error {
	return al.LogActivity(&Activity{
		ServerID:     serverID,
		Actor:        "system",
		ActivityType: ActivityServerCrash,
		Description:  fmt.Sprintf("Server process exited unexpectedly (code %d)", exitCode),
		Metadata: map[string]interface{}{
			"exit_code": exitCode,
		},
		Success:      false,
		ErrorMessage: detail,
	})
}

// LogCommandExecute logs a console command dispatch
func (al *ActivityLogger) LogCommandExecute(serverID, actor, command, channel string, success bool, output string, errorMsg string) error {
	metadata := map[string]interface{}{
		"command": command,
		"channel": channel,
	}

	if output != "" {
		if len(output) > 1000 {
			metadata["output"] = output[:1000] + "... (truncated)"
		} else {
			metadata["output"] = output
		}
	}

	if errorMsg != "" {
		metadata["error"] = errorMsg
	}

	return al.LogActivity(&Activity{
		ServerID:     serverID,
		Actor:        actor,
		ActivityType: ActivityCommandExecute,
		Description:  fmt.Sprintf("Command executed: %s", command),
		Metadata:     metadata,
		Success:      success,
		ErrorMessage: errorMsg,
	})
}

// LogConfigUpdate logs a settings change
func (al *ActivityLogger) LogConfigUpdate(serverID, actor, section string) error {
	return al.LogActivity(&Activity{
		ServerID:     serverID,
		Actor:        actor,
		ActivityType: ActivityConfigUpdate,
		Description:  fmt.Sprintf("Settings updated: %s", section),
		Metadata: map[string]interface{}{
			"section": section,
		},
		Success: true,
	})
}

// GetActivities retrieves activities from the database, newest first
func (al *ActivityLogger) GetActivities(serverID string, activityType string, since time.Time, limit int) ([]*Activity, error) {
	if al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT timestamp, server_id, actor, activity_type, description, metadata, success, error_message
		FROM activity_log
		WHERE 1=1
	`
	args := make([]interface{}, 0)

	if serverID != "" {
		query += " AND server_id = ?"
		args = append(args, serverID)
	}

	if activityType != "" {
		query += " AND activity_type = ?"
		args = append(args, activityType)
	}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*Activity, 0)

	for rows.Next() {
		activity := &Activity{}
		var actor, description, errorMessage sql.NullString
		var metadataJSON sql.NullString

		err := rows.Scan(
			&activity.Timestamp,
			&activity.ServerID,
			&actor,
			&activity.ActivityType,
			&description,
			&metadataJSON,
			&activity.Success,
			&errorMessage,
		)
		if err != nil {
			log.Printf("[ActivityLogger] Error scanning row: %v", err)
			continue
		}

		activity.Actor = actor.String
		activity.Description = description.String
		activity.ErrorMessage = errorMessage.String

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &activity.Metadata); err != nil {
				log.Printf("[ActivityLogger] Error unmarshaling metadata: %v", err)
			}
		}

		activities = append(activities, activity)
	}

	return activities, rows.Err()
}

func (al *ActivityLogger) logToDatabase(activity *Activity) error {
	if al.db == nil {
		return nil
	}

	metadataJSON, err := json.Marshal(activity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = al.db.Exec(`
		INSERT INTO activity_log (
			timestamp, server_id, actor, activity_type,
			description, metadata, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		activity.Timestamp,
		activity.ServerID,
		activity.Actor,
		activity.ActivityType,
		activity.Description,
		string(metadataJSON),
		activity.Success,
		activity.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}

	return nil
}

func (al *ActivityLogger) logToFile(activity *Activity) error {
	currentDate := time.Now().Format("2006-01-02")

	if al.currentFile == nil || al.currentDate != currentDate {
		if err := al.rotateLogFile(currentDate); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	line, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	if _, err := fmt.Fprintf(al.currentFile, "%s\n", line); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}

	switch activity.ActivityType {
	case ActivityServerStart, ActivityServerStop, ActivityServerCrash:
		al.currentFile.Sync()
	}

	return nil
}

func (al *ActivityLogger) rotateLogFile(date string) error {
	if al.currentFile != nil {
		al.currentFile.Close()
		al.currentFile = nil
	}

	logPath := filepath.Join(al.logDir, fmt.Sprintf("activity-%s.log", date))

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	al.currentFile = file
	al.currentDate = date

	log.Printf("[ActivityLogger] Rotated log file to: %s", logPath)
	return nil
}

// Close closes the activity logger
func (al *ActivityLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.currentFile != nil {
		err := al.currentFile.Close()
		al.currentFile = nil
		return err
	}

	return nil
}

// CleanupOldActivities removes activities older than a specified duration
func (al *ActivityLogger) CleanupOldActivities(olderThan time.Duration) error {
	if al.db == nil {
		return fmt.Errorf("database not available")
	}

	cutoff := time.Now().Add(-olderThan)

	result, err := al.db.Exec(`DELETE FROM activity_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old activities: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	log.Printf("[ActivityLogger] Cleaned up %d activities older than %v", rowsAffected, olderThan)

	return nil
}

// GetActivityStats counts activities per type
func (al *ActivityLogger) GetActivityStats(serverID string, since time.Time) (map[string]int, error) {
	if al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT activity_type, COUNT(*) as count
		FROM activity_log
		WHERE 1=1
	`
	args := make([]interface{}, 0)

	if serverID != "" {
		query += " AND server_id = ?"
		args = append(args, serverID)
	}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since)
	}

	query += " GROUP BY activity_type"

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var activityType string
		var count int
		if err := rows.Scan(&activityType, &count); err != nil {
			log.Printf("[ActivityLogger] Error scanning stats row: %v", err)
			continue
		}
		stats[activityType] = count
	}

	return stats, rows.Err()
}
