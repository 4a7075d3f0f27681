// Package config defines the top-level configuration for the arzfeed relay
// and provides validation helpers.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARZFEED_* environment
// variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Providers ProvidersConfig `toml:"providers"`
	Tracker   TrackerConfig   `toml:"tracker"`
	Cache     CacheConfig     `toml:"cache"`
	OHLC      OHLCConfig      `toml:"ohlc"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Feed      FeedConfig      `toml:"feed"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// UpstreamConfig tunes the rate-limited fetch client shared by all vendor
// adapters.
type UpstreamConfig struct {
	// TokenIntervalMs is the token bucket refill interval: one call is
	// allowed per interval, sustained.
	TokenIntervalMs int `toml:"token_interval_ms"`
	// CoalesceTTLMs is how long a settled in-flight result keeps serving
	// identical requests.
	CoalesceTTLMs  int `toml:"coalesce_ttl_ms"`
	MaxRetries     int `toml:"max_retries"`
	RequestTimeout int `toml:"request_timeout_secs"`
}

// ProvidersConfig registers the upstream vendor adapters.
type ProvidersConfig struct {
	// MaxFallbackAttempts caps how many providers are tried before the
	// orchestrator gives up.
	MaxFallbackAttempts int `toml:"max_fallback_attempts"`
	// BreakerThreshold is the consecutive-failure count that opens a
	// provider's circuit.
	BreakerThreshold int `toml:"breaker_threshold"`
	// BreakerResetSecs is how long after the last failure an open circuit
	// half-opens.
	BreakerResetSecs int `toml:"breaker_reset_secs"`
	// ParallelTimeoutSecs bounds each provider call during parallel fetch.
	ParallelTimeoutSecs int `toml:"parallel_timeout_secs"`
	// MergeStrategy is the default parallel merge strategy
	// (override, newest, average).
	MergeStrategy string `toml:"merge_strategy"`

	Navasan NavasanConfig `toml:"navasan"`
}

// NavasanConfig holds the primary vendor adapter's settings.
type NavasanConfig struct {
	Enabled  bool   `toml:"enabled"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
	Priority int    `toml:"priority"`
	// Capabilities lists the categories this vendor serves.
	Capabilities []string `toml:"capabilities"`
	// UnitMultipliers corrects vendor unit mismatches per item code
	// (e.g. coin items quoted in thousands).
	UnitMultipliers map[string]float64 `toml:"unit_multipliers"`
}

// TrackerConfig tunes the generic sliding-window error tracker.
type TrackerConfig struct {
	WindowSecs int `toml:"window_secs"`
	Threshold  int `toml:"threshold"`
}

// CacheConfig tunes the tiered cache manager.
type CacheConfig struct {
	FreshTTLSecs int `toml:"fresh_ttl_secs"`
	StaleTTLSecs int `toml:"stale_ttl_secs"`
	// Categories lists the categories the scheduler refreshes.
	Categories []string `toml:"categories"`
	// ExpectedItems maps category -> item codes expected in a complete
	// payload, used for historical completeness reporting.
	ExpectedItems map[string][]string `toml:"expected_items"`
}

// OHLCConfig tunes the aggregation engine.
type OHLCConfig struct {
	// RingSize is how many recent points are kept in memory per item for
	// charting.
	RingSize int `toml:"ring_size"`
	// UpdateLogRetentionDays bounds how long update logs are kept before
	// archival and purge.
	UpdateLogRetentionDays int `toml:"update_log_retention_days"`
	// MinuteRetentionDays bounds how long minute-level records stay in
	// Postgres before archival to S3.
	MinuteRetentionDays int `toml:"minute_retention_days"`
}

// SchedulerConfig defines the time-of-day-aware refresh policy.
type SchedulerConfig struct {
	Timezone string `toml:"timezone"`
	// WeekendDays and PeakDays use time.Weekday numbering (Sunday = 0).
	WeekendDays   []int `toml:"weekend_days"`
	PeakDays      []int `toml:"peak_days"`
	PeakStartHour int   `toml:"peak_start_hour"`
	PeakEndHour   int   `toml:"peak_end_hour"`

	WeekendIntervalMin int `toml:"weekend_interval_min"`
	PeakIntervalMin    int `toml:"peak_interval_min"`
	NormalIntervalMin  int `toml:"normal_interval_min"`
}

// FeedConfig holds the optional websocket tick-feed settings.
type FeedConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	// MaxReconnectSecs caps the exponential reconnect backoff.
	MaxReconnectSecs int `toml:"max_reconnect_secs"`
}

var validModes = map[string]bool{
	"serve":   true, // scheduler + feed, long-running
	"refresh": true, // one-shot refresh of every category
	"rollup":  true, // one-shot daily/weekly/monthly rollups
	"archive": true, // one-shot update-log / minute-record archival
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validMergeStrategies = map[string]bool{
	"override": true,
	"newest":   true,
	"average":  true,
}

// Defaults returns a Config populated with sensible defaults. Load merges the
// TOML file and environment overrides on top of this.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arzfeed",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arzfeed-archive",
			ForcePathStyle: true,
		},
		Upstream: UpstreamConfig{
			TokenIntervalMs: 5000,
			CoalesceTTLMs:   5000,
			MaxRetries:      3,
			RequestTimeout:  30,
		},
		Providers: ProvidersConfig{
			MaxFallbackAttempts: 3,
			BreakerThreshold:    5,
			BreakerResetSecs:    60,
			ParallelTimeoutSecs: 15,
			MergeStrategy:       "newest",
			Navasan: NavasanConfig{
				Enabled:      true,
				BaseURL:      "https://api.navasan.example",
				Priority:     1,
				Capabilities: []string{"currency", "crypto", "gold", "coin"},
			},
		},
		Tracker: TrackerConfig{
			WindowSecs: 300,
			Threshold:  10,
		},
		Cache: CacheConfig{
			FreshTTLSecs: 300,
			StaleTTLSecs: 7 * 24 * 3600,
			Categories:   []string{"currency", "crypto", "gold", "coin"},
		},
		OHLC: OHLCConfig{
			RingSize:               144,
			UpdateLogRetentionDays: 90,
			MinuteRetentionDays:    30,
		},
		Scheduler: SchedulerConfig{
			Timezone:           "Asia/Tehran",
			WeekendDays:        []int{4, 5}, // Thursday, Friday
			PeakDays:           []int{6, 0, 1, 2, 3},
			PeakStartHour:      10,
			PeakEndHour:        18,
			WeekendIntervalMin: 120,
			PeakIntervalMin:    10,
			NormalIntervalMin:  60,
		},
		Feed: FeedConfig{
			Enabled:          false,
			MaxReconnectSecs: 60,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// FreshTTL returns the Fresh tier TTL as a duration.
func (c CacheConfig) FreshTTL() time.Duration {
	return time.Duration(c.FreshTTLSecs) * time.Second
}

// StaleTTL returns the Stale tier TTL as a duration.
func (c CacheConfig) StaleTTL() time.Duration {
	return time.Duration(c.StaleTTLSecs) * time.Second
}

// Level maps the configured log level name onto its slog level. Unknown
// names fall back to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks the configuration for inconsistencies and returns an error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, refresh, rollup, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Upstream.TokenIntervalMs <= 0 {
		errs = append(errs, "upstream: token_interval_ms must be positive")
	}
	if c.Upstream.MaxRetries < 0 {
		errs = append(errs, "upstream: max_retries must not be negative")
	}

	if !validMergeStrategies[c.Providers.MergeStrategy] {
		errs = append(errs, fmt.Sprintf("providers: unknown merge_strategy %q (valid: override, newest, average)", c.Providers.MergeStrategy))
	}
	if c.Providers.BreakerThreshold <= 0 {
		errs = append(errs, "providers: breaker_threshold must be positive")
	}
	if c.Providers.MaxFallbackAttempts <= 0 {
		errs = append(errs, "providers: max_fallback_attempts must be positive")
	}
	if c.Providers.Navasan.Enabled {
		if c.Providers.Navasan.BaseURL == "" {
			errs = append(errs, "providers.navasan: base_url must not be empty")
		}
		if c.Providers.Navasan.APIKey == "" {
			errs = append(errs, "providers.navasan: api_key must not be empty")
		}
	}

	if c.Cache.FreshTTLSecs <= 0 {
		errs = append(errs, "cache: fresh_ttl_secs must be positive")
	}
	if c.Cache.StaleTTLSecs <= c.Cache.FreshTTLSecs {
		errs = append(errs, "cache: stale_ttl_secs must exceed fresh_ttl_secs")
	}
	if len(c.Cache.Categories) == 0 {
		errs = append(errs, "cache: at least one category must be configured")
	}

	if c.Scheduler.PeakStartHour < 0 || c.Scheduler.PeakStartHour > 23 {
		errs = append(errs, "scheduler: peak_start_hour must be in [0, 23]")
	}
	if c.Scheduler.PeakEndHour < 0 || c.Scheduler.PeakEndHour > 23 {
		errs = append(errs, "scheduler: peak_end_hour must be in [0, 23]")
	}
	if c.Scheduler.PeakIntervalMin <= 0 || c.Scheduler.NormalIntervalMin <= 0 || c.Scheduler.WeekendIntervalMin <= 0 {
		errs = append(errs, "scheduler: all intervals must be positive")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler: unknown timezone %q", c.Scheduler.Timezone))
	}

	if c.Feed.Enabled && c.Feed.URL == "" {
		errs = append(errs, "feed: url must not be empty when the feed is enabled")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when s3 is enabled")
		}
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			errs = append(errs, "s3: access_key and secret_key must be set when s3 is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
