package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARZFEED_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARZFEED_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARZFEED_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARZFEED_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARZFEED_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARZFEED_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARZFEED_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARZFEED_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARZFEED_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "ARZFEED_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARZFEED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARZFEED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARZFEED_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ARZFEED_REDIS_TLS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARZFEED_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARZFEED_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARZFEED_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARZFEED_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARZFEED_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARZFEED_S3_SECRET_KEY")

	// ── Providers ──
	setStr(&cfg.Providers.Navasan.BaseURL, "ARZFEED_NAVASAN_BASE_URL")
	setStr(&cfg.Providers.Navasan.APIKey, "ARZFEED_NAVASAN_API_KEY")
	setBool(&cfg.Providers.Navasan.Enabled, "ARZFEED_NAVASAN_ENABLED")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "ARZFEED_FEED_ENABLED")
	setStr(&cfg.Feed.URL, "ARZFEED_FEED_URL")

	// ── Misc ──
	setStr(&cfg.Mode, "ARZFEED_MODE")
	setStr(&cfg.LogLevel, "ARZFEED_LOG_LEVEL")
}

func setStr(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
