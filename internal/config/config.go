// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Import     ImportConfig
	Sync       SyncConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	RawArchive RawArchiveConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout bounds a whole response, including a synchronous import (default: 11m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"11m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown,
	// including running jobs (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds store settings.
type DatabaseConfig struct {
	// Driver selects the store: postgres or memory (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// AutoMigrate applies pending schema migrations on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds file import and job settings.
type ImportConfig struct {
	// MaxFileSize is the maximum accepted file size, e.g. 100MB (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"100MB"`

	// BatchSize is the number of records written per store call (default: 500)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"500"`

	// JobTimeout bounds a single import or sync job (default: 10m)
	JobTimeout time.Duration `env:"JOB_TIMEOUT" default:"10m"`
}

// SyncConfig holds provider sync settings.
type SyncConfig struct {
	// Enabled starts the background scheduler (default: true)
	Enabled bool `env:"SYNC_ENABLED" default:"true"`

	// Interval is the time between scheduled passes (default: 15m)
	Interval time.Duration `env:"SYNC_INTERVAL" default:"15m"`

	// Concurrency is the number of connections synced in parallel (default: 4)
	Concurrency int `env:"SYNC_CONCURRENCY" default:"4"`

	// MaxPages caps pages per run; 0 means unlimited (default: 0)
	MaxPages int `env:"SYNC_MAX_PAGES" default:"0"`

	// TimeBudget caps wall-clock time per run; 0 means unlimited (default: 5m)
	TimeBudget time.Duration `env:"SYNC_TIME_BUDGET" default:"5m"`

	// ProvidersFile is the YAML file describing provider endpoints. It is
	// watched and reloaded on change. Empty registers only the sandbox.
	ProvidersFile string `env:"PROVIDERS_FILE"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// APIKeys is a comma-separated list of accepted X-API-Key values
	APIKeys []string `env:"API_KEYS"`

	// RequireAPIKey rejects /api requests without a valid key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// RawArchiveConfig holds settings for raw snapshot storage.
type RawArchiveConfig struct {
	// Bucket is the GCS bucket for large snapshots; empty keeps every
	// snapshot inline in the store
	Bucket string `env:"RAW_ARCHIVE_BUCKET"`

	// Prefix is prepended to every object name
	Prefix string `env:"RAW_ARCHIVE_PREFIX" default:"raw"`

	// InlineLimit is the largest snapshot kept inline when a bucket is set (default: 256KB)
	InlineLimit int `env:"RAW_INLINE_LIMIT" default:"256KB"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
