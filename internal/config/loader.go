package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies EXECSYNC_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known EXECSYNC_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.Host, "EXECSYNC_VENUE_HOST")
	setInt(&cfg.Venue.Port, "EXECSYNC_VENUE_PORT")
	setStr(&cfg.Venue.Path, "EXECSYNC_VENUE_PATH")
	setBool(&cfg.Venue.UseTLS, "EXECSYNC_VENUE_USE_TLS")
	setInt64(&cfg.Venue.ClientID, "EXECSYNC_VENUE_CLIENT_ID")
	setDuration(&cfg.Venue.ConnectTimeout, "EXECSYNC_VENUE_CONNECT_TIMEOUT")
	setBool(&cfg.Venue.Reconnect, "EXECSYNC_VENUE_RECONNECT")
	setInt(&cfg.Venue.OrdersPerSecond, "EXECSYNC_VENUE_ORDERS_PER_SECOND")

	// ── Cycle ──
	setDuration(&cfg.Cycle.IdentifierTimeout, "EXECSYNC_CYCLE_IDENTIFIER_TIMEOUT")
	setDuration(&cfg.Cycle.BatchTimeout, "EXECSYNC_CYCLE_BATCH_TIMEOUT")
	setDuration(&cfg.Cycle.Interval, "EXECSYNC_CYCLE_INTERVAL")
	setStr(&cfg.Cycle.UnmatchedExecutions, "EXECSYNC_CYCLE_UNMATCHED_EXECUTIONS")
	setDuration(&cfg.Cycle.LockTTL, "EXECSYNC_CYCLE_LOCK_TTL")
	setDuration(&cfg.Cycle.DedupTTL, "EXECSYNC_CYCLE_DEDUP_TTL")
	setInt64(&cfg.Cycle.Filter.ClientID, "EXECSYNC_CYCLE_FILTER_CLIENT_ID")
	setStr(&cfg.Cycle.Filter.AcctCode, "EXECSYNC_CYCLE_FILTER_ACCT_CODE")
	setStr(&cfg.Cycle.Filter.Time, "EXECSYNC_CYCLE_FILTER_TIME")
	setStr(&cfg.Cycle.Filter.Symbol, "EXECSYNC_CYCLE_FILTER_SYMBOL")
	setStr(&cfg.Cycle.Filter.SecType, "EXECSYNC_CYCLE_FILTER_SEC_TYPE")
	setStr(&cfg.Cycle.Filter.Exchange, "EXECSYNC_CYCLE_FILTER_EXCHANGE")
	setStr(&cfg.Cycle.Filter.Side, "EXECSYNC_CYCLE_FILTER_SIDE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "EXECSYNC_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "EXECSYNC_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "EXECSYNC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EXECSYNC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EXECSYNC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EXECSYNC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EXECSYNC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EXECSYNC_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "EXECSYNC_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "EXECSYNC_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "EXECSYNC_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "EXECSYNC_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "EXECSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EXECSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EXECSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EXECSYNC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "EXECSYNC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "EXECSYNC_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Channel, "EXECSYNC_REDIS_CHANNEL")
	setStr(&cfg.Redis.Stream, "EXECSYNC_REDIS_STREAM")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "EXECSYNC_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "EXECSYNC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EXECSYNC_S3_REGION")
	setStr(&cfg.S3.Bucket, "EXECSYNC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EXECSYNC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EXECSYNC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EXECSYNC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EXECSYNC_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "EXECSYNC_S3_PREFIX")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "EXECSYNC_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "EXECSYNC_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "EXECSYNC_KAFKA_TOPIC")
	setDuration(&cfg.Kafka.BatchTimeout, "EXECSYNC_KAFKA_BATCH_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "EXECSYNC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "EXECSYNC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "EXECSYNC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "EXECSYNC_NOTIFY_EVENTS")

	// ── Account ──
	setStr(&cfg.Account.Group, "EXECSYNC_ACCOUNT_GROUP")
	setStringSlice(&cfg.Account.Tags, "EXECSYNC_ACCOUNT_TAGS")
	setDuration(&cfg.Account.Timeout, "EXECSYNC_ACCOUNT_TIMEOUT")
	setStringSlice(&cfg.Account.Accounts, "EXECSYNC_ACCOUNT_ACCOUNTS")

	// ── Bars ──
	setStr(&cfg.Bars.Symbol, "EXECSYNC_BARS_SYMBOL")
	setStr(&cfg.Bars.SecType, "EXECSYNC_BARS_SEC_TYPE")
	setStr(&cfg.Bars.Exchange, "EXECSYNC_BARS_EXCHANGE")
	setStr(&cfg.Bars.Currency, "EXECSYNC_BARS_CURRENCY")
	setStr(&cfg.Bars.EndDateTime, "EXECSYNC_BARS_END_DATE_TIME")
	setStr(&cfg.Bars.Duration, "EXECSYNC_BARS_DURATION")
	setStr(&cfg.Bars.BarSize, "EXECSYNC_BARS_BAR_SIZE")
	setStr(&cfg.Bars.WhatToShow, "EXECSYNC_BARS_WHAT_TO_SHOW")
	setBool(&cfg.Bars.UseRTH, "EXECSYNC_BARS_USE_RTH")
	setDuration(&cfg.Bars.Timeout, "EXECSYNC_BARS_TIMEOUT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "EXECSYNC_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "EXECSYNC_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "EXECSYNC_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "EXECSYNC_MODE")
	setStr(&cfg.LogLevel, "EXECSYNC_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
