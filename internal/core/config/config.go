package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aevon-lab/project-tracklog/internal/autograph"
	corehistory "github.com/aevon-lab/project-tracklog/internal/core/history"
)

const envPrefix = "TRACKLOG_"

// Config represents the top-level configuration for tracklog.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Autograph AutographConfig `koanf:"autograph"`
	History   HistoryConfig   `koanf:"history"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Collector CollectorConfig `koanf:"collector"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	Host            string `koanf:"host"`
	MaxBodySizeMB   int    `koanf:"max_body_size_mb"`
	Mode            string `koanf:"mode"` // debug | release
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

// DatabaseConfig is optional. An empty DSN runs without snapshot storage.
type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

type AutographConfig struct {
	BaseURL    string        `koanf:"base_url"`
	Username   string        `koanf:"username"`
	Password   string        `koanf:"password"`
	UTCOffset  int           `koanf:"utc_offset"` // minutes
	Timeout    string        `koanf:"timeout"`
	SchemaID   string        `koanf:"schema_id"`
	SessionTTL string        `koanf:"session_ttl"`
	Breaker    BreakerConfig `koanf:"breaker"`
}

type BreakerConfig struct {
	Enabled      bool    `koanf:"enabled"`
	MaxRequests  uint32  `koanf:"max_requests"`
	Interval     string  `koanf:"interval"`
	Timeout      string  `koanf:"timeout"`
	MinRequests  uint32  `koanf:"min_requests"`
	FailureRatio float64 `koanf:"failure_ratio"`
}

type HistoryConfig struct {
	BatchSize         int    `koanf:"batch_size"`
	BatchDelay        string `koanf:"batch_delay"`
	TripSplitterIndex int    `koanf:"trip_splitter_index"`
}

// CatalogConfig points at a parameter catalog file. An empty path uses the built-in catalog.
type CatalogConfig struct {
	Path string `koanf:"path"`
}

type CollectorConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Interval  string `koanf:"interval"`
	DaysBack  int    `koanf:"days_back"`
	Retention string `koanf:"retention"` // "0" keeps snapshots forever
}

// Durations are validated by Validate, so the accessors below ignore parse errors.

func (c ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return mustDuration(c.ShutdownTimeout)
}

func (c AutographConfig) TimeoutDuration() time.Duration {
	return mustDuration(c.Timeout)
}

func (c AutographConfig) SessionTTLDuration() time.Duration {
	return mustDuration(c.SessionTTL)
}

func (c AutographConfig) Credentials() autograph.Credentials {
	return autograph.Credentials{
		Username:  c.Username,
		Password:  c.Password,
		UTCOffset: c.UTCOffset,
	}
}

// BreakerSettings converts the breaker section into client settings.
func (c BreakerConfig) BreakerSettings() autograph.BreakerSettings {
	s := autograph.DefaultBreakerSettings()
	s.MaxRequests = c.MaxRequests
	s.Interval = mustDuration(c.Interval)
	s.Timeout = mustDuration(c.Timeout)
	s.MinRequests = c.MinRequests
	s.FailureRatio = c.FailureRatio
	return s
}

func (c HistoryConfig) BatchDelayDuration() time.Duration {
	return mustDuration(c.BatchDelay)
}

func (c CollectorConfig) IntervalDuration() time.Duration {
	return mustDuration(c.Interval)
}

func (c CollectorConfig) RetentionDuration() time.Duration {
	return mustDuration(c.Retention)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}
	if err := positiveDuration("server.shutdown_timeout", c.Server.ShutdownTimeout); err != nil {
		return err
	}

	if c.Database.Enabled() {
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	}

	u, err := url.Parse(c.Autograph.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid autograph.base_url %q (must be an http(s) URL)", c.Autograph.BaseURL)
	}
	if strings.TrimSpace(c.Autograph.Username) == "" {
		return fmt.Errorf("autograph.username is required")
	}
	if c.Autograph.UTCOffset < -720 || c.Autograph.UTCOffset > 840 {
		return fmt.Errorf("invalid autograph.utc_offset %d (minutes, -720 to 840)", c.Autograph.UTCOffset)
	}
	if err := positiveDuration("autograph.timeout", c.Autograph.Timeout); err != nil {
		return err
	}
	if err := positiveDuration("autograph.session_ttl", c.Autograph.SessionTTL); err != nil {
		return err
	}
	if c.Autograph.Breaker.Enabled {
		b := c.Autograph.Breaker
		if err := positiveDuration("autograph.breaker.interval", b.Interval); err != nil {
			return err
		}
		if err := positiveDuration("autograph.breaker.timeout", b.Timeout); err != nil {
			return err
		}
		if b.MaxRequests == 0 {
			return fmt.Errorf("autograph.breaker.max_requests must be > 0")
		}
		if b.FailureRatio <= 0 || b.FailureRatio > 1 {
			return fmt.Errorf("autograph.breaker.failure_ratio must be in (0, 1]")
		}
	}

	if c.History.BatchSize <= 0 || c.History.BatchSize > corehistory.DefaultBatchSize {
		return fmt.Errorf("history.batch_size must be 1-%d", corehistory.DefaultBatchSize)
	}
	if err := nonNegativeDuration("history.batch_delay", c.History.BatchDelay); err != nil {
		return err
	}
	if c.History.TripSplitterIndex < 0 {
		return fmt.Errorf("history.trip_splitter_index must be >= 0")
	}

	if c.Catalog.Path != "" {
		if _, err := os.Stat(c.Catalog.Path); err != nil {
			return fmt.Errorf("catalog.path %q is not accessible: %w", c.Catalog.Path, err)
		}
	}

	if c.Collector.Enabled {
		if !c.Database.Enabled() {
			return fmt.Errorf("collector.enabled requires database.dsn")
		}
		if strings.TrimSpace(c.Autograph.SchemaID) == "" {
			return fmt.Errorf("collector.enabled requires autograph.schema_id")
		}
		if err := positiveDuration("collector.interval", c.Collector.Interval); err != nil {
			return err
		}
		if c.Collector.DaysBack <= 0 {
			return fmt.Errorf("collector.days_back must be > 0")
		}
		if err := nonNegativeDuration("collector.retention", c.Collector.Retention); err != nil {
			return err
		}
	}

	return nil
}

// Load parses config from defaults, an optional YAML file and TRACKLOG_ env
// vars (TRACKLOG_AUTOGRAPH__PASSWORD → autograph.password), then validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                     8080,
		"server.host":                     "0.0.0.0",
		"server.max_body_size_mb":         1,
		"server.mode":                     "release",
		"server.shutdown_timeout":         "15s",
		"database.dsn":                    "",
		"database.max_open_conns":         10,
		"database.max_idle_conns":         5,
		"database.auto_migrate":           true,
		"autograph.base_url":              "https://web.tk-ekat.ru",
		"autograph.utc_offset":            300,
		"autograph.timeout":               "60s",
		"autograph.session_ttl":           autograph.DefaultSessionTTL.String(),
		"autograph.breaker.enabled":       true,
		"autograph.breaker.max_requests":  2,
		"autograph.breaker.interval":      "1m",
		"autograph.breaker.timeout":       "30s",
		"autograph.breaker.min_requests":  5,
		"autograph.breaker.failure_ratio": 0.6,
		"history.batch_size":              corehistory.DefaultBatchSize,
		"history.batch_delay":             "500ms",
		"history.trip_splitter_index":     0,
		"catalog.path":                    "",
		"collector.enabled":               false,
		"collector.interval":              "5m",
		"collector.days_back":             1,
		"collector.retention":             "720h",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func positiveDuration(key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be > 0", key)
	}
	return nil
}

func nonNegativeDuration(key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be >= 0", key)
	}
	return nil
}

func mustDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
