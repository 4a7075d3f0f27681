package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Providers.Navasan.APIKey = "test-key"
	return cfg
}

func TestDefaultsValidateWithAPIKey(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "batch"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "batch"`)
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log_level")
}

func TestValidateRejectsUnknownMergeStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Providers.MergeStrategy = "quorum"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge_strategy")
}

func TestValidateRequiresStaleTTLBeyondFresh(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.FreshTTLSecs = 600
	cfg.Cache.StaleTTLSecs = 600

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale_ttl_secs must exceed fresh_ttl_secs")
}

func TestValidateRequiresAPIKeyForEnabledProvider(t *testing.T) {
	cfg := Defaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key must not be empty")

	cfg.Providers.Navasan.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "nope"
	cfg.Scheduler.Timezone = "Mars/Olympus"
	cfg.Feed.Enabled = true
	cfg.Feed.URL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown timezone")
	assert.Contains(t, err.Error(), "feed: url must not be empty")
}

func TestValidateS3RequiresCredentialsWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.S3.Enabled = true
	cfg.S3.AccessKey = ""
	cfg.S3.SecretKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_key and secret_key")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "refresh"
log_level = "debug"

[cache]
fresh_ttl_secs = 120

[providers.navasan]
api_key = "from-file"

[providers.navasan.unit_multipliers]
sekkeh = 1000.0
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "refresh", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 120, cfg.Cache.FreshTTLSecs)
	assert.Equal(t, "from-file", cfg.Providers.Navasan.APIKey)
	assert.Equal(t, 1000.0, cfg.Providers.Navasan.UnitMultipliers["sekkeh"])

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"currency", "crypto", "gold", "coin"}, cfg.Cache.Categories)

	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[providers.navasan]
api_key = "from-file"
`), 0o644))

	t.Setenv("ARZFEED_NAVASAN_API_KEY", "from-env")
	t.Setenv("ARZFEED_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("ARZFEED_POSTGRES_PORT", "5433")
	t.Setenv("ARZFEED_S3_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Providers.Navasan.APIKey, "env beats file")
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.True(t, cfg.S3.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLevelMapsNamesToSlogLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for name, want := range cases {
		cfg := Config{LogLevel: name}
		assert.Equal(t, want, cfg.Level(), "level %q", name)
	}
}

func TestTTLHelpers(t *testing.T) {
	cfg := CacheConfig{FreshTTLSecs: 300, StaleTTLSecs: 3600}
	assert.Equal(t, "5m0s", cfg.FreshTTL().String())
	assert.Equal(t, "1h0m0s", cfg.StaleTTL().String())
}
