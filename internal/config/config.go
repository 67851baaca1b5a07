// Package config defines the top-level configuration for execsync and
// provides validation helpers.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by EXECSYNC_* environment variables.
type Config struct {
	Venue    VenueConfig    `toml:"venue"`
	Cycle    CycleConfig    `toml:"cycle"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Notify   NotifyConfig   `toml:"notify"`
	Orders   []OrderConfig  `toml:"orders"`
	Account  AccountConfig  `toml:"account"`
	Bars     BarsConfig     `toml:"bars"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig holds the gateway connection parameters.
type VenueConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Path           string   `toml:"path"`
	UseTLS         bool     `toml:"use_tls"`
	ClientID       int64    `toml:"client_id"`
	ConnectTimeout duration `toml:"connect_timeout"`
	Reconnect      bool     `toml:"reconnect"`

	// OrdersPerSecond paces place mode across processes through Redis.
	// Zero disables pacing.
	OrdersPerSecond int `toml:"orders_per_second"`
}

// URL returns the websocket URL of the gateway.
func (v VenueConfig) URL() string {
	scheme := "ws"
	if v.UseTLS {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(v.Host, strconv.Itoa(v.Port)),
		Path:   v.Path,
	}
	return u.String()
}

// CycleConfig holds the correlation cycle parameters.
type CycleConfig struct {
	IdentifierTimeout duration `toml:"identifier_timeout"`
	BatchTimeout      duration `toml:"batch_timeout"`
	// Interval is the pause between cycles in watch mode.
	Interval duration `toml:"interval"`
	// UnmatchedExecutions is "exclude" or "report".
	UnmatchedExecutions string       `toml:"unmatched_executions"`
	LockTTL             duration     `toml:"lock_ttl"`
	DedupTTL            duration     `toml:"dedup_ttl"`
	Filter              FilterConfig `toml:"filter"`
}

// FilterConfig narrows the executions request. Empty fields match everything.
type FilterConfig struct {
	ClientID int64  `toml:"client_id"`
	AcctCode string `toml:"acct_code"`
	Time     string `toml:"time"`
	Symbol   string `toml:"symbol"`
	SecType  string `toml:"sec_type"`
	Exchange string `toml:"exchange"`
	Side     string `toml:"side"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// Channel is the pub/sub channel fills are published on.
	Channel string `toml:"channel"`
	// Stream is the stream every fill is appended to.
	Stream string `toml:"stream"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// KafkaConfig holds Kafka producer parameters.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	BatchTimeout duration `toml:"batch_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// OrderConfig is one order for place mode.
type OrderConfig struct {
	Symbol          string          `toml:"symbol"`
	SecType         string          `toml:"sec_type"`
	Exchange        string          `toml:"exchange"`
	PrimaryExchange string          `toml:"primary_exchange"`
	Currency        string          `toml:"currency"`
	Action          string          `toml:"action"`
	Quantity        decimal.Decimal `toml:"quantity"`
	Type            string          `toml:"type"`
	LimitPrice      decimal.Decimal `toml:"limit_price"`
	Account         string          `toml:"account"`
	Algo            AlgoConfig      `toml:"algo"`
}

// AlgoConfig selects an algo strategy and its parameters. Parameters left out
// take the algo's defaults.
type AlgoConfig struct {
	Strategy string            `toml:"strategy"`
	Params   map[string]string `toml:"params"`
}

// AccountConfig holds account summary, open orders and account update
// request parameters.
type AccountConfig struct {
	Group   string   `toml:"group"`
	Tags    []string `toml:"tags"`
	Timeout duration `toml:"timeout"`
	// Accounts limits account-updates mode. Empty means every managed account.
	Accounts []string `toml:"accounts"`
}

// BarsConfig selects the historical bars fetched by bars mode.
type BarsConfig struct {
	Symbol      string   `toml:"symbol"`
	SecType     string   `toml:"sec_type"`
	Exchange    string   `toml:"exchange"`
	Currency    string   `toml:"currency"`
	EndDateTime string   `toml:"end_date_time"` // empty means now
	Duration    string   `toml:"duration"`
	BarSize     string   `toml:"bar_size"`
	WhatToShow  string   `toml:"what_to_show"`
	UseRTH      bool     `toml:"use_rth"`
	Timeout     duration `toml:"timeout"`
}

// ServerConfig holds the status API served in watch mode.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"` // if empty, authentication is disabled
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			Host:           "127.0.0.1",
			Port:           7497,
			Path:           "/v1/api",
			ClientID:       0,
			ConnectTimeout: duration{15 * time.Second},
			Reconnect:      true,
		},
		Cycle: CycleConfig{
			IdentifierTimeout:   duration{10 * time.Second},
			BatchTimeout:        duration{30 * time.Second},
			Interval:            duration{time.Minute},
			UnmatchedExecutions: "exclude",
			LockTTL:             duration{2 * time.Minute},
			DedupTTL:            duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "execsync",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
			Channel:    "execsync:fills",
			Stream:     "execsync:fills:stream",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "execsync-cycles",
			ForcePathStyle: true,
			Prefix:         "cycles",
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			Topic:        "execsync.fills",
			BatchTimeout: duration{10 * time.Millisecond},
		},
		Notify: NotifyConfig{
			Events: []string{"anomaly", "cycle_failed"},
		},
		Account: AccountConfig{
			Group:   "All",
			Tags:    []string{"AccountType", "NetLiquidation", "TotalCashValue", "BuyingPower"},
			Timeout: duration{10 * time.Second},
		},
		Bars: BarsConfig{
			SecType:    "STK",
			Exchange:   "SMART",
			Currency:   "USD",
			Duration:   "1 M",
			BarSize:    "1 day",
			WhatToShow: "TRADES",
			UseRTH:     true,
			Timeout:    duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8080,
		},
		Mode:     "executions",
		LogLevel: "info",
	}
}

// Modes accepted for Config.Mode.
const (
	ModeCheck          = "check"
	ModeExecutions     = "executions"
	ModeWatch          = "watch"
	ModePlace          = "place"
	ModeAccountSummary = "account-summary"
	ModeCancelAll      = "cancel-all"
	ModeHistory        = "history"
	ModeTail           = "tail"
	ModeOpenOrders     = "open-orders"
	ModeAccountUpdates = "account-updates"
	ModeBars           = "bars"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeCheck:          true,
	ModeExecutions:     true,
	ModeWatch:          true,
	ModePlace:          true,
	ModeAccountSummary: true,
	ModeCancelAll:      true,
	ModeHistory:        true,
	ModeTail:           true,
	ModeOpenOrders:     true,
	ModeAccountUpdates: true,
	ModeBars:           true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validOrderTypes = map[string]bool{"MKT": true, "LMT": true}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: check, executions, watch, place, account-summary, cancel-all, history, tail, open-orders, account-updates, bars)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue
	if c.Venue.Host == "" {
		errs = append(errs, "venue: host must not be empty")
	}
	if c.Venue.Port <= 0 || c.Venue.Port > 65535 {
		errs = append(errs, fmt.Sprintf("venue: port must be 1-65535, got %d", c.Venue.Port))
	}
	if c.Venue.ClientID < 0 {
		errs = append(errs, "venue: client_id must be >= 0")
	}
	if c.Venue.ConnectTimeout.Duration <= 0 {
		errs = append(errs, "venue: connect_timeout must be > 0")
	}
	if c.Venue.OrdersPerSecond < 0 {
		errs = append(errs, "venue: orders_per_second must be >= 0")
	}

	// Cycle
	if c.Cycle.IdentifierTimeout.Duration <= 0 {
		errs = append(errs, "cycle: identifier_timeout must be > 0")
	}
	if c.Cycle.BatchTimeout.Duration <= 0 {
		errs = append(errs, "cycle: batch_timeout must be > 0")
	}
	switch c.Cycle.UnmatchedExecutions {
	case "exclude", "report":
	default:
		errs = append(errs, fmt.Sprintf("cycle: unmatched_executions must be exclude or report, got %q", c.Cycle.UnmatchedExecutions))
	}
	if c.Mode == ModeWatch && c.Cycle.Interval.Duration <= 0 {
		errs = append(errs, "cycle: interval must be > 0 for watch mode")
	}
	if c.Redis.Enabled && c.Cycle.LockTTL.Duration <= 0 {
		errs = append(errs, "cycle: lock_ttl must be > 0 when redis is enabled")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Mode == ModeTail {
		if !c.Redis.Enabled {
			errs = append(errs, "redis: must be enabled for tail mode")
		}
		if c.Redis.Channel == "" && c.Redis.Stream == "" {
			errs = append(errs, "redis: tail mode needs channel or stream")
		}
	}

	// S3 (history reads the archive, so it needs the bucket too)
	if c.S3.Enabled || c.Mode == ModeHistory {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty")
		}
	}

	// Orders
	if c.Mode == ModePlace && len(c.Orders) == 0 {
		errs = append(errs, "orders: at least one order is required for place mode")
	}
	for i, o := range c.Orders {
		if o.Symbol == "" {
			errs = append(errs, fmt.Sprintf("orders[%d]: symbol must not be empty", i))
		}
		if o.Action != "BUY" && o.Action != "SELL" {
			errs = append(errs, fmt.Sprintf("orders[%d]: action must be BUY or SELL, got %q", i, o.Action))
		}
		if !o.Quantity.IsPositive() {
			errs = append(errs, fmt.Sprintf("orders[%d]: quantity must be > 0", i))
		}
		if !validOrderTypes[o.Type] {
			errs = append(errs, fmt.Sprintf("orders[%d]: type must be MKT or LMT, got %q", i, o.Type))
		}
		if o.Type == "LMT" && !o.LimitPrice.IsPositive() {
			errs = append(errs, fmt.Sprintf("orders[%d]: limit_price must be > 0 for LMT", i))
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Account
	if c.Mode == ModeAccountSummary {
		if c.Account.Group == "" {
			errs = append(errs, "account: group must not be empty")
		}
		if len(c.Account.Tags) == 0 {
			errs = append(errs, "account: tags must not be empty")
		}
	}
	if (c.Mode == ModeOpenOrders || c.Mode == ModeAccountUpdates) && c.Account.Timeout.Duration <= 0 {
		errs = append(errs, "account: timeout must be > 0")
	}

	// Bars
	if c.Mode == ModeBars {
		if c.Bars.Symbol == "" {
			errs = append(errs, "bars: symbol must not be empty")
		}
		if c.Bars.Duration == "" || c.Bars.BarSize == "" {
			errs = append(errs, "bars: duration and bar_size must not be empty")
		}
		if c.Bars.Timeout.Duration <= 0 {
			errs = append(errs, "bars: timeout must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
