// Package config loads texttailor configuration.
//
// Precedence, highest first: runtime overrides, TEXTTAILOR_* environment
// variables, config file, built-in defaults.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Ghost    GhostConfig    `mapstructure:"ghost"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures the loggers.
type LoggingConfig struct {
	Level   string        `mapstructure:"level"`
	Profile string        `mapstructure:"profile"`
	File    LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotating log file. An empty Path disables it.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// JobsConfig configures the job registry and progress streams.
type JobsConfig struct {
	CleanupDelay      time.Duration `mapstructure:"cleanup_delay"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// GhostConfig configures outbound Ghost Admin API traffic.
type GhostConfig struct {
	APIVersion  string        `mapstructure:"api_version"`
	PageSize    int           `mapstructure:"page_size"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SnapshotConfig selects where pre-edit article snapshots go.
type SnapshotConfig struct {
	Backend  string `mapstructure:"backend"`
	Dir      string `mapstructure:"dir"`
	Prefix   string `mapstructure:"prefix"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Profile  string `mapstructure:"profile"`
}

// HealthConfig toggles the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig toggles debug behaviour.
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Jobs.CleanupDelay <= 0 {
		return fmt.Errorf("jobs.cleanup_delay must be positive")
	}
	if c.Jobs.SubscriberBuffer < 1 {
		return fmt.Errorf("jobs.subscriber_buffer must be at least 1")
	}
	if c.Ghost.PageSize < 1 || c.Ghost.PageSize > 100 {
		return fmt.Errorf("ghost.page_size %d out of range 1-100", c.Ghost.PageSize)
	}
	if c.Ghost.Concurrency < 1 {
		return fmt.Errorf("ghost.concurrency must be at least 1")
	}
	if c.Ghost.RateLimit < 0 {
		return fmt.Errorf("ghost.rate_limit must not be negative")
	}
	switch c.Snapshot.Backend {
	case "none", "file", "s3":
	default:
		return fmt.Errorf("snapshot.backend %q (want none, file or s3)", c.Snapshot.Backend)
	}
	return nil
}

// GetAppDataDir returns the per-user data directory for texttailor.
func GetAppDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultSnapshotDir is where the file snapshot backend writes by default.
func DefaultSnapshotDir() string {
	return filepath.Join(GetAppDataDir(), "snapshots")
}
