package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Registry    RegistryConfig    `yaml:"registry"`
	Client      ClientConfig      `yaml:"client"`
	Logging     LoggingConfig     `yaml:"logging"`
	Admin       AdminConfig       `yaml:"admin"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Backup      BackupConfig      `yaml:"backup"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Webhooks    []WebhookConfig   `yaml:"webhooks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds settings for the SQLite file backing the registry.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RegistryConfig holds registry behavior settings.
type RegistryConfig struct {
	ConflictPolicy string `yaml:"conflict_policy"`
}

// ClientConfig holds adapter settings.
type ClientConfig struct {
	DefaultAdapter string       `yaml:"default_adapter"`
	DataDir        string       `yaml:"data_dir"`
	Remote         RemoteConfig `yaml:"remote"`
}

// RemoteConfig holds settings for the http adapter.
type RemoteConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
	RetryMax int           `yaml:"retry_max"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// AdminConfig guards administrative endpoints.
type AdminConfig struct {
	// TokenHash is a bcrypt hash of the admin bearer token. Empty disables
	// administrative endpoints.
	TokenHash string `yaml:"token_hash"`
}

// RateLimitConfig limits mutating API requests per client IP.
type RateLimitConfig struct {
	Enabled        bool    `yaml:"enabled"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	Burst          int     `yaml:"burst"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// BackupConfig holds registry backup settings.
type BackupConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Path           string `yaml:"path"`
	IntervalHours  int    `yaml:"interval_hours"`
	RetentionCount int    `yaml:"retention_count"`
	MaxAgeDays     int    `yaml:"max_age_days"`
}

// MaintenanceConfig holds registry upkeep settings.
type MaintenanceConfig struct {
	Enabled       bool `yaml:"enabled"`
	IntervalHours int  `yaml:"interval_hours"`
}

// WebhookConfig describes one lifecycle event receiver.
type WebhookConfig struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     5985,
			BasePath: "/",
		},
		Database: DatabaseConfig{
			Path: "/data/alldbs.db",
		},
		Registry: RegistryConfig{
			ConflictPolicy: "last-writer-wins",
		},
		Client: ClientConfig{
			DefaultAdapter: "sqlite",
			DataDir:        "/data/dbs",
			Remote: RemoteConfig{
				Timeout:  10 * time.Second,
				RetryMax: 3,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerSec: 20,
			Burst:          40,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Backup: BackupConfig{
			IntervalHours:  24,
			RetentionCount: 7,
		},
		Maintenance: MaintenanceConfig{
			Enabled:       true,
			IntervalHours: 24,
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("ALLDBS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("ALLDBS_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("ALLDBS_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("ALLDBS_CONFLICT_POLICY"); v != "" {
		c.Registry.ConflictPolicy = v
	}
	if v := os.Getenv("ALLDBS_DEFAULT_ADAPTER"); v != "" {
		c.Client.DefaultAdapter = v
	}
	if v := os.Getenv("ALLDBS_DATA_DIR"); v != "" {
		c.Client.DataDir = v
	}
	if v := os.Getenv("ALLDBS_REMOTE_URL"); v != "" {
		c.Client.Remote.BaseURL = v
	}
	if v := os.Getenv("ALLDBS_REMOTE_USERNAME"); v != "" {
		c.Client.Remote.Username = v
	}
	if v := os.Getenv("ALLDBS_REMOTE_PASSWORD"); v != "" {
		c.Client.Remote.Password = v
	}
	if v := os.Getenv("ALLDBS_ADMIN_TOKEN_HASH"); v != "" {
		c.Admin.TokenHash = v
	}
	if v := os.Getenv("ALLDBS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ALLDBS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("ALLDBS_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("ALLDBS_BACKUP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Backup.Enabled = b
		}
	}
	if v := os.Getenv("ALLDBS_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("ALLDBS_BACKUP_PATH"); v != "" {
		c.Backup.Path = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	switch c.Registry.ConflictPolicy {
	case "", "last-writer-wins", "add-wins":
	default:
		return fmt.Errorf("invalid registry conflict policy: %q", c.Registry.ConflictPolicy)
	}
	switch c.Client.DefaultAdapter {
	case "sqlite", "memory", "bolt":
	default:
		return fmt.Errorf("invalid default adapter: %q", c.Client.DefaultAdapter)
	}
	if c.Client.DefaultAdapter != "memory" && c.Client.DataDir == "" {
		return fmt.Errorf("client data_dir is required for the %s adapter", c.Client.DefaultAdapter)
	}
	if c.Client.DataDir != "" {
		// The sqlite adapter deletes <data_dir>/<name>.db on destroy.
		if sameDir(c.Client.DataDir, filepath.Dir(c.Database.Path)) {
			return fmt.Errorf("client data_dir %q must not contain the registry database %q", c.Client.DataDir, c.Database.Path)
		}
		if c.Backup.Path != "" && sameDir(c.Client.DataDir, c.Backup.Path) {
			return fmt.Errorf("client data_dir %q must not be the backup directory", c.Client.DataDir)
		}
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSec <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_sec and burst")
	}
	if c.Backup.Enabled && c.Backup.IntervalHours <= 0 {
		return fmt.Errorf("backup interval_hours must be positive")
	}
	if c.Maintenance.Enabled && c.Maintenance.IntervalHours <= 0 {
		return fmt.Errorf("maintenance interval_hours must be positive")
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %d (%s): url is required", i, w.Name)
		}
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return nil
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
