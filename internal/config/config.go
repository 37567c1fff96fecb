// Package config loads lakeview configuration from defaults, an optional
// YAML file, LAKEVIEW_* environment variables, and runtime overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/lakeview/internal/observability"
	"github.com/3leaps/lakeview/pkg/inventory"
	"github.com/3leaps/lakeview/pkg/inventory/athena"
	"github.com/3leaps/lakeview/pkg/inventory/sqlite"
)

// Config is the complete application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Backend      string             `mapstructure:"backend" yaml:"backend"`
	Athena       AthenaConfig       `mapstructure:"athena" yaml:"athena"`
	SQLite       SQLiteConfig       `mapstructure:"sqlite" yaml:"sqlite"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Query        QueryConfig        `mapstructure:"query" yaml:"query"`
	VersionCheck VersionCheckConfig `mapstructure:"version_check" yaml:"version_check"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// AthenaConfig mirrors athena.Config with file and env friendly names.
type AthenaConfig struct {
	Database        string        `mapstructure:"database" yaml:"database"`
	Table           string        `mapstructure:"table" yaml:"table"`
	Catalog         string        `mapstructure:"catalog" yaml:"catalog"`
	WorkGroup       string        `mapstructure:"workgroup" yaml:"workgroup"`
	OutputLocation  string        `mapstructure:"output_location" yaml:"output_location"`
	Region          string        `mapstructure:"region" yaml:"region"`
	Profile         string        `mapstructure:"profile" yaml:"profile"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket          string        `mapstructure:"bucket" yaml:"bucket"`
	Snapshot        string        `mapstructure:"snapshot" yaml:"snapshot"`
	Versioned       bool          `mapstructure:"versioned" yaml:"versioned"`
	PageSize        int           `mapstructure:"page_size" yaml:"page_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval" yaml:"max_poll_interval"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// AdapterConfig converts to the Athena adapter configuration.
func (a AthenaConfig) AdapterConfig() athena.Config {
	return athena.Config{
		Database:        a.Database,
		Table:           a.Table,
		Catalog:         a.Catalog,
		WorkGroup:       a.WorkGroup,
		OutputLocation:  a.OutputLocation,
		Bucket:          a.Bucket,
		Snapshot:        a.Snapshot,
		Versioned:       a.Versioned,
		Region:          a.Region,
		Endpoint:        a.Endpoint,
		Profile:         a.Profile,
		PageSize:        a.PageSize,
		PollInterval:    a.PollInterval,
		MaxPollInterval: a.MaxPollInterval,
		RateLimit:       a.RateLimit,
	}
}

// SQLiteConfig configures the local inventory table.
type SQLiteConfig struct {
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token,omitempty"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Snapshot  string `mapstructure:"snapshot" yaml:"snapshot"`
	Versioned bool   `mapstructure:"versioned" yaml:"versioned"`
}

// StoreConfig returns the connection settings.
func (s SQLiteConfig) StoreConfig() sqlite.Config {
	return sqlite.Config{Path: s.Path, URL: s.URL, AuthToken: s.AuthToken}
}

// Options returns the row filters.
func (s SQLiteConfig) Options() sqlite.Options {
	return sqlite.Options{Bucket: s.Bucket, Snapshot: s.Snapshot, Versioned: s.Versioned}
}

// CacheConfig configures the listing cache.
type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Capacity int           `mapstructure:"capacity" yaml:"capacity"`
}

// QueryConfig bounds each inventory query.
type QueryConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// VersionCheckConfig configures the startup release check.
type VersionCheckConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ConfigError describes an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks the values the server and CLI depend on. Backend-specific
// settings are validated by the adapters when they are constructed.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	for field, d := range map[string]time.Duration{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.idle_timeout":     c.Server.IdleTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		if d <= 0 {
			return &ConfigError{Field: field, Message: "must be positive"}
		}
	}

	switch strings.ToLower(c.Logging.Profile) {
	case observability.ProfileStructured, observability.ProfileConsole:
	default:
		return &ConfigError{Field: "logging.profile", Message: fmt.Sprintf("unknown profile %q", c.Logging.Profile)}
	}

	switch inventory.Backend(c.Backend) {
	case inventory.BackendAthena, inventory.BackendSQLite:
	default:
		return &ConfigError{Field: "backend", Message: fmt.Sprintf("unknown backend %q (expected athena or sqlite)", c.Backend)}
	}

	if c.Cache.TTL <= 0 {
		return &ConfigError{Field: "cache.ttl", Message: "must be positive"}
	}
	if c.Cache.Capacity <= 0 {
		return &ConfigError{Field: "cache.capacity", Message: "must be positive"}
	}
	if c.Query.Timeout <= 0 {
		return &ConfigError{Field: "query.timeout", Message: "must be positive"}
	}
	if c.VersionCheck.Enabled && c.VersionCheck.Timeout <= 0 {
		return &ConfigError{Field: "version_check.timeout", Message: "must be positive"}
	}
	return nil
}
