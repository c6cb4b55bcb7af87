package console

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogWriter appends console output to a rotating file and tracks each run in console_logs.
type LogWriter struct {
	serverID     string
	logPath      string
	out          *lumberjack.Logger
	db           *sql.DB
	mu           sync.Mutex
	currentLogID int64
}

// LogWriterConfig contains configuration for log writer
type LogWriterConfig struct {
	ServerID      string
	LogDir        string
	MaxSizeMB     int
	MaxBackups    int
	RetentionDays int
	DB            *sql.DB
}

// NewLogWriter creates a new log writer
func NewLogWriter(cfg LogWriterConfig) (*LogWriter, error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}

	logPath := filepath.Join(cfg.LogDir, "console.log")
	lw := &LogWriter{
		serverID: cfg.ServerID,
		logPath:  logPath,
		db:       cfg.DB,
		out: &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.RetentionDays,
			Compress:   true,
		},
	}

	log.Printf("[LogWriter] Console output for %s goes to %s", cfg.ServerID, logPath)
	return lw, nil
}

// Path returns the active log file.
func (lw *LogWriter) Path() string {
	return lw.logPath
}

// BeginSession marks the start of a process run in the file and the database.
func (lw *LogWriter) BeginSession(sessionID, executable string) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.writeLocked(time.Now(), fmt.Sprintf("=== session %s started: %s ===", sessionID, executable))

	if lw.db == nil {
		return
	}
	result, err := lw.db.Exec(`
		INSERT INTO console_logs (server_id, session_id, log_path, is_active)
		VALUES (?, ?, ?, 1)
	`, lw.serverID, sessionID, lw.logPath)
	if err != nil {
		log.Printf("[LogWriter] Failed to record console session: %v", err)
		return
	}
	if id, err := result.LastInsertId(); err == nil {
		lw.currentLogID = id
	}
}

// EndSession marks the end of the current run.
func (lw *LogWriter) EndSession(sessionID string) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.writeLocked(time.Now(), fmt.Sprintf("=== session %s ended ===", sessionID))

	if lw.db == nil || lw.currentLogID == 0 {
		return
	}
	if _, err := lw.db.Exec(`
		UPDATE console_logs SET is_active = 0, closed_at = CURRENT_TIMESTAMP WHERE id = ?
	`, lw.currentLogID); err != nil {
		log.Printf("[LogWriter] Failed to close console session: %v", err)
	}
	lw.currentLogID = 0
}

// WriteLine writes a line to the log file
func (lw *LogWriter) WriteLine(line Line) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.writeLocked(line.Time, line.Text)
}

func (lw *LogWriter) writeLocked(at time.Time, text string) error {
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := fmt.Fprintf(lw.out, "[%s] %s\n", at.Format("2006-01-02 15:04:05"), text); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}
	return nil
}

// Close closes the log file
func (lw *LogWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.out.Close()
}

// CleanupOldLogs forgets console session records older than the retention period.
// The files themselves are pruned by lumberjack's MaxAge.
func CleanupOldLogs(db *sql.DB, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := db.Exec(`
		UPDATE console_logs
		SET deleted_at = CURRENT_TIMESTAMP
		WHERE created_at < ? AND deleted_at IS NULL AND is_active = 0
	`, cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return fmt.Errorf("failed to cleanup console logs: %w", err)
	}

	affected, _ := result.RowsAffected()
	log.Printf("[LogWriter] Marked %d console sessions as expired (retention: %d days)", affected, retentionDays)
	return nil
}
