package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))

	ttl, err := cfg.CacheTTL()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, ttl)
	assert.Equal(t, int64(512<<20), cfg.CacheQuotaBytes())
	assert.Equal(t, "127.0.0.1:8484", cfg.Server.ListenAddr)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
listen_addr = "0.0.0.0:9090"

[cache]
ttl = "1h"
quota_mb = 64

[sync]
batch_size = 10
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.ListenAddr)
	assert.Equal(t, "1h", cfg.Cache.TTL)
	assert.Equal(t, int64(64), cfg.Cache.QuotaMB)
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	// Untouched sections keep their defaults.
	assert.Equal(t, 500, cfg.Sync.AutoCap)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
}

func TestLoadInvalidTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[cache]
ttl = "tomorrow"
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ttl")
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Cache.TTL, cfg.Cache.TTL)
}

func TestResolveEnvOverrides(t *testing.T) {
	t.Setenv(EnvCacheDir, "/var/cache/drivesync")
	t.Setenv(EnvCacheTTL, "30m")
	t.Setenv(EnvCacheQuotaMB, "128")

	cfg, err := Resolve(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/drivesync", cfg.Cache.Dir)
	assert.Equal(t, "30m", cfg.Cache.TTL)
	assert.Equal(t, int64(128), cfg.Cache.QuotaMB)
}

func TestResolveEnvTTLSeconds(t *testing.T) {
	t.Setenv(EnvCacheTTL, "3600")

	cfg, err := Resolve(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	ttl, err := cfg.CacheTTL()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)
}

func TestResolveEnvConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[logging]
log_level = "debug"
`), 0o600))
	t.Setenv(EnvConfig, path)

	cfg, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
}

func TestResolveBadEnvQuota(t *testing.T) {
	t.Setenv(EnvCacheQuotaMB, "lots")

	_, err := Resolve(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	for _, mutate := range []func(*Config){
		func(c *Config) { c.Cache.QuotaMB = -1 },
		func(c *Config) { c.Sync.BatchSize = 0 },
		func(c *Config) { c.Sync.AutoCap = -5 },
		func(c *Config) { c.Logging.LogLevel = "loud" },
		func(c *Config) { c.Logging.LogFormat = "yaml" },
	} {
		cfg := DefaultConfig()
		mutate(cfg)
		assert.Error(t, Validate(cfg))
	}
}
