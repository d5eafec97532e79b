package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Environment variable names for overrides.
const (
	EnvConfig       = "DRIVESYNC_CONFIG"
	EnvCacheDir     = "DRIVESYNC_CACHE_DIR"
	EnvCacheTTL     = "DRIVESYNC_CACHE_TTL"
	EnvCacheQuotaMB = "DRIVESYNC_CACHE_QUOTA_MB"
)

// DefaultConfig returns a Config populated with safe defaults, usable
// without any config file.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8484",
		},
		Cache: CacheConfig{
			Dir:     DefaultCacheDir(),
			TTL:     "24h",
			QuotaMB: 512,
		},
		Sync: SyncConfig{
			BatchSize: 50,
			AutoCap:   500,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(DefaultDataDir(), "drivesync.db"),
		},
		Logging: LoggingConfig{
			LogLevel:  "info",
			LogFormat: "auto",
		},
	}
}

// Load reads and parses a TOML config file over the defaults and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault reads the config file if it exists, otherwise returns
// pure defaults. Supports the zero-config first run.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the full override chain: the config file named by
// cliPath (or DRIVESYNC_CONFIG, or the default location) layered over
// defaults, then cache environment overrides on top.
func Resolve(cliPath string) (*Config, error) {
	path := DefaultConfigPath()
	if env := os.Getenv(EnvConfig); env != "" {
		path = env
	}

	if cliPath != "" {
		path = cliPath
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		cfg.Cache.Dir = dir
	}

	if ttl := os.Getenv(EnvCacheTTL); ttl != "" {
		// A bare integer is a TTL in seconds; anything else must be a
		// Go duration string.
		if secs, err := strconv.ParseInt(ttl, 10, 64); err == nil {
			ttl = fmt.Sprintf("%ds", secs)
		}

		cfg.Cache.TTL = ttl
	}

	if quota := os.Getenv(EnvCacheQuotaMB); quota != "" {
		mb, err := strconv.ParseInt(quota, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s %q is not an integer", EnvCacheQuotaMB, quota)
		}

		cfg.Cache.QuotaMB = mb
	}

	return nil
}
