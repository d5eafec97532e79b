// Package config implements TOML configuration loading with
// environment overrides for drivesync. The override chain is
// defaults -> config file -> environment.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level structure parsed from a TOML file.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Cache    CacheConfig    `toml:"cache"`
	Sync     SyncConfig     `toml:"sync"`
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig controls the retrieval and OAuth callback endpoint.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// CacheConfig controls the on-disk content cache.
type CacheConfig struct {
	Dir     string `toml:"dir"`
	TTL     string `toml:"ttl"`
	QuotaMB int64  `toml:"quota_mb"`
}

// SyncConfig controls batch sizing of the upload pipeline.
type SyncConfig struct {
	BatchSize int `toml:"batch_size"`
	AutoCap   int `toml:"auto_cap"`
}

// DatabaseConfig locates the entity store.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CacheTTL returns the parsed cache TTL. Validate guarantees it
// parses, so errors only occur on unvalidated configs.
func (c *Config) CacheTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 0, fmt.Errorf("config: parsing cache ttl %q: %w", c.Cache.TTL, err)
	}

	return d, nil
}

// CacheQuotaBytes returns the cache quota in bytes, 0 meaning
// unlimited.
func (c *Config) CacheQuotaBytes() int64 {
	return c.Cache.QuotaMB << 20
}

// Validate checks a loaded configuration. Called by Load; exported for
// configs assembled in code.
func Validate(cfg *Config) error {
	if _, err := time.ParseDuration(cfg.Cache.TTL); err != nil {
		return fmt.Errorf("config: cache ttl %q is not a duration", cfg.Cache.TTL)
	}

	if cfg.Cache.QuotaMB < 0 {
		return fmt.Errorf("config: cache quota_mb must not be negative, got %d", cfg.Cache.QuotaMB)
	}

	if cfg.Sync.BatchSize <= 0 {
		return fmt.Errorf("config: sync batch_size must be positive, got %d", cfg.Sync.BatchSize)
	}

	if cfg.Sync.AutoCap <= 0 {
		return fmt.Errorf("config: sync auto_cap must be positive, got %d", cfg.Sync.AutoCap)
	}

	switch cfg.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level must be debug, info, warn or error, got %q", cfg.Logging.LogLevel)
	}

	switch cfg.Logging.LogFormat {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("config: log_format must be auto, text or json, got %q", cfg.Logging.LogFormat)
	}

	return nil
}
