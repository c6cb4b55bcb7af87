package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_init",
		Up: `
-- Current lifecycle state of the managed process (one row per panel instance)
CREATE TABLE server_status (
    server_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,               -- 'stopped', 'running', 'crashed'
    executable TEXT,
    pid INTEGER,
    session_id TEXT,
    last_started DATETIME,
    last_stopped DATETIME,
    last_closed DATETIME,
    last_crash DATETIME,
    error_message TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Sampled CPU/RSS of the process
CREATE TABLE server_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id TEXT NOT NULL,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    cpu_usage REAL,                     -- Percentage of one core
    memory_used INTEGER,                -- RSS bytes
    status TEXT
);

CREATE INDEX idx_metrics_server_time ON server_metrics(server_id, timestamp DESC);

-- Activity log (all server events)
CREATE TABLE activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    server_id TEXT,
    actor TEXT,
    activity_type TEXT NOT NULL,
    description TEXT,
    metadata TEXT,                      -- JSON for additional context
    success BOOLEAN DEFAULT 1,
    error_message TEXT
);

CREATE INDEX idx_activity_server_time ON activity_log(server_id, timestamp DESC);
CREATE INDEX idx_activity_type_time ON activity_log(activity_type, timestamp DESC);
`,
		Down: `
DROP TABLE IF EXISTS activity_log;
DROP TABLE IF EXISTS server_metrics;
DROP TABLE IF EXISTS server_status;
`,
	},
	{
		Version: "002_console",
		Up: `
CREATE TABLE console_commands (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id TEXT NOT NULL,
    actor TEXT,
    command TEXT NOT NULL,
    channel TEXT NOT NULL DEFAULT 'stdin', -- 'stdin' or 'rcon'
    executed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    success BOOLEAN DEFAULT 1,
    output_preview TEXT
);

CREATE INDEX idx_console_commands_server ON console_commands(server_id, executed_at DESC);

CREATE TABLE console_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id TEXT NOT NULL,
    session_id TEXT,
    log_path TEXT NOT NULL,
    is_active BOOLEAN DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    closed_at DATETIME,
    deleted_at DATETIME
);
`,
		Down: `
DROP TABLE IF EXISTS console_logs;
DROP TABLE IF EXISTS console_commands;
`,
	},
}
