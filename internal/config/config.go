package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	Security SecurityConfig `yaml:"security" json:"security"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Process  ProcessConfig  `yaml:"process" json:"process"`
	RCON     RCONConfig     `yaml:"rcon" json:"rcon"`
	Webhook  WebhookConfig  `yaml:"webhook" json:"webhook"`
	Commands CommandsConfig `yaml:"commands" json:"commands"`
	Network  NetworkConfig  `yaml:"network" json:"network"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string    `yaml:"host" json:"host"`
	Port int       `yaml:"port" json:"port"`
	TLS  TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig contains TLS/HTTPS settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path           string `yaml:"path" json:"path"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
}

// AuthConfig contains operator token settings
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	JWTSecret     string `yaml:"jwt_secret" json:"-"`
	TokenDuration string `yaml:"token_duration" json:"token_duration"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
}

// RateLimitConfig contains rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int  `yaml:"burst" json:"burst"`
}

// CORSConfig contains CORS settings
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	DataDir       string `yaml:"data_dir" json:"data_dir"`
	StateFile     string `yaml:"state_file" json:"state_file"`
	ConsoleLogDir string `yaml:"console_log_dir" json:"console_log_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	// ActivityRetentionDays bounds the activity_log table. Zero keeps everything.
	ActivityRetentionDays int `yaml:"activity_retention_days" json:"activity_retention_days"`
}

// MetricsConfig contains metrics collection settings
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	Interval       int  `yaml:"interval" json:"interval"`               // seconds
	RecordInterval int  `yaml:"record_interval" json:"record_interval"` // seconds
	RetentionDays  int  `yaml:"retention_days" json:"retention_days"`
	Prometheus     bool `yaml:"prometheus" json:"prometheus"`
}

// ProcessConfig describes the game server child process
type ProcessConfig struct {
	Executable              string `yaml:"executable" json:"executable"`
	GracePeriod             string `yaml:"grace_period" json:"grace_period"`
	KillTimeout             string `yaml:"kill_timeout" json:"kill_timeout"`
	RestartSchedule         string `yaml:"restart_schedule" json:"restart_schedule"`
	BacklogLines            int    `yaml:"backlog_lines" json:"backlog_lines"`
	ConsoleLogRetentionDays int    `yaml:"console_log_retention_days" json:"console_log_retention_days"`
}

// RCONConfig contains remote console settings
type RCONConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Password string `yaml:"password" json:"-"`
	Timeout  string `yaml:"timeout" json:"timeout"`
}

// WebhookConfig contains Discord notification settings
type WebhookConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	URL         string `yaml:"url" json:"url"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Color       int    `yaml:"color" json:"color"`
}

// CommandsConfig controls console command autocomplete
type CommandsConfig struct {
	ModsDir string `yaml:"mods_dir" json:"mods_dir"`
	Watch   bool   `yaml:"watch" json:"watch"`
}

// NetworkConfig contains public address detection settings
type NetworkConfig struct {
	PublicIPURL string `yaml:"public_ip_url" json:"public_ip_url"`
	GameINI     string `yaml:"game_ini" json:"game_ini"`
	Timeout     string `yaml:"timeout" json:"timeout"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path:           "./data/panel.db",
			MaxConnections: 10,
		},
		Auth: AuthConfig{
			Enabled:       true,
			JWTSecret:     getEnv("JWT_SECRET", "change-me-in-production"),
			TokenDuration: "720h",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             20,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			},
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,

			ActivityRetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Interval:       1,
			RecordInterval: 60,
			RetentionDays:  2,
			Prometheus:     true,
		},
		Process: ProcessConfig{
			GracePeriod:             "10s",
			KillTimeout:             "5s",
			BacklogLines:            1000,
			ConsoleLogRetentionDays: 14,
		},
		RCON: RCONConfig{
			Host:    "127.0.0.1",
			Port:    25575,
			Timeout: "5s",
		},
		Webhook: WebhookConfig{
			Title:       "Server Started",
			Description: "The game server is now online.",
			Color:       65280,
		},
		Commands: CommandsConfig{
			ModsDir: "./mods",
			Watch:   true,
		},
		Network: NetworkConfig{
			PublicIPURL: "https://api.ipify.org",
			Timeout:     "5s",
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	cfg := Default()

	configPath := GetConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalizeStoragePaths(configPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.Auth.JWTSecret = jwtSecret
	}

	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	if executable := os.Getenv("SERVER_EXECUTABLE"); executable != "" {
		c.Process.Executable = executable
	}

	if password := os.Getenv("RCON_PASSWORD"); password != "" {
		c.RCON.Password = password
	}

	if webhookURL := os.Getenv("DISCORD_WEBHOOK_URL"); webhookURL != "" {
		c.Webhook.URL = webhookURL
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "change-me-in-production" {
			return fmt.Errorf("JWT_SECRET must be set to a secure value")
		}

		// Check for unexpanded environment variables
		if len(c.Auth.JWTSecret) > 1 && c.Auth.JWTSecret[0] == '$' && c.Auth.JWTSecret[1] == '{' {
			return fmt.Errorf("JWT_SECRET contains unexpanded environment variable")
		}
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS is enabled but cert_file or key_file is missing")
		}
	}

	if d, err := time.ParseDuration(c.Process.GracePeriod); err != nil || d <= 0 {
		return fmt.Errorf("process.grace_period must be a positive duration, got %q", c.Process.GracePeriod)
	}

	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be at least 1 second")
	}

	if c.RCON.Enabled {
		if c.RCON.Password == "" {
			return fmt.Errorf("rcon is enabled but no password is set")
		}
		if c.RCON.Port <= 0 || c.RCON.Port > 65535 {
			return fmt.Errorf("rcon.port out of range: %d", c.RCON.Port)
		}
	}

	if c.Webhook.Enabled && strings.TrimSpace(c.Webhook.URL) == "" {
		return fmt.Errorf("webhook is enabled but url is empty")
	}

	return nil
}

// RCONAddress returns host:port for the remote console
func (c RCONConfig) RCONAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ParseDuration parses a duration string, returning fallback when it is empty or invalid.
func ParseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Storage.StateFile) == "" {
		c.Storage.StateFile = filepath.Join(c.Storage.DataDir, "server_state.json")
	}
	c.Storage.StateFile = resolvePath(c.Storage.StateFile)

	if strings.TrimSpace(c.Storage.ConsoleLogDir) == "" {
		c.Storage.ConsoleLogDir = filepath.Join(c.Storage.DataDir, "logs", "console")
	}
	c.Storage.ConsoleLogDir = resolvePath(c.Storage.ConsoleLogDir)

	if strings.TrimSpace(c.Commands.ModsDir) != "" {
		c.Commands.ModsDir = resolvePath(c.Commands.ModsDir)
	}
}
