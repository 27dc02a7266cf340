package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chtmp moves the test into an empty directory so stray config files are not
// picked up.
func chtmp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(orig) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chtmp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Cache.Driver)
	assert.Equal(t, "cache.db", cfg.Cache.Path)
	assert.Equal(t, "acs:v2", cfg.Cache.Namespace)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 500, cfg.Cache.EvictBatch)
	assert.Equal(t, "https://api.census.gov/data", cfg.Census.BaseURL)
	assert.Equal(t, "acs/acs5", cfg.Census.Dataset)
	assert.Equal(t, 2023, cfg.Census.Year)
	assert.Equal(t, time.Duration(0), cfg.Census.RateLimitCooldown)
	assert.Equal(t, 50, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 10, cfg.Fetch.BatchSize)
	assert.Equal(t, 4, cfg.Fetch.MaxConcurrent)
	assert.Equal(t, 4, cfg.Fetch.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Fetch.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.Fetch.MaxBackoff)
	assert.Equal(t, 100, cfg.Index.DefaultLimit)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chtmp(t)

	yaml := `
cache:
  driver: postgres
  database_url: postgres://localhost/zipmap
log:
  level: debug
  format: console
server:
  port: 9090
fetch:
  batch_size: 25
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Cache.Driver)
	assert.Equal(t, "postgres://localhost/zipmap", cfg.Cache.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Fetch.BatchSize)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Fetch.MaxConcurrent)
	assert.Equal(t, 50, cfg.RateLimit.MaxRequests)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chtmp(t)

	yaml := `
cache:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("ZIPMAP_CACHE_DRIVER", "sqlite")
	t.Setenv("ZIPMAP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Cache.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtmp(t)

	t.Setenv("ZIPMAP_CENSUS_KEY", "abc123")
	t.Setenv("ZIPMAP_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "abc123", cfg.Census.Key)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	cases := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{"console debug", LogConfig{Level: "debug", Format: "console"}, false},
		{"json info", LogConfig{Level: "info", Format: "json"}, false},
		{"bad level", LogConfig{Level: "invalid", Format: "json"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := InitLogger(tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, zap.L())
		})
	}
}

// validDefaults returns a Config with the bounds-checked fields populated.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Fetch.BatchSize = 10
	cfg.Fetch.MaxConcurrent = 4
	cfg.Fetch.MaxAttempts = 4
	cfg.RateLimit.MaxRequests = 50
	cfg.RateLimit.Window = time.Minute
	cfg.Cache.TTL = 30 * 24 * time.Hour
	cfg.Cache.EvictBatch = 500
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateFetch_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Census.Key = "abc123"

	assert.NoError(t, cfg.Validate("fetch"))
}

func TestValidateFetch_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("fetch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "census.key is required")
}

func TestValidateFetch_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Census.Key = "abc123"
	cfg.Cache.Driver = "postgres"

	err := cfg.Validate("fetch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cache.database_url is required")

	cfg.Cache.DatabaseURL = "postgres://localhost/zipmap"
	assert.NoError(t, cfg.Validate("fetch"))
}

func TestValidateIndex_NeedsDataset(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("index")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "index.dataset_path or index.snapshot_path")

	cfg.Index.DatasetPath = "data/uszips.csv"
	assert.NoError(t, cfg.Validate("index"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateBatchBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Fetch.BatchSize = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fetch.batch_size must be between 1 and 50")

	cfg.Fetch.BatchSize = 51
	err = cfg.Validate("serve")
	assert.Error(t, err)

	cfg.Fetch.BatchSize = 50
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateWindowBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.RateLimit.Window = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ratelimit.window must be > 0")
}
