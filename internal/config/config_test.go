package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
log_level = "debug"
mode = "place"

[venue]
host = "gw.internal"
port = 4002
client_id = 7
connect_timeout = "5s"

[cycle]
batch_timeout = "45s"
unmatched_executions = "report"

[cycle.filter]
symbol = "AAPL"
sec_type = "STK"

[postgres]
enabled = true
dsn = "postgres://u:secret@db/execsync"

[[orders]]
symbol = "AAPL"
sec_type = "STK"
exchange = "SMART"
currency = "USD"
action = "BUY"
quantity = 100
type = "LMT"
limit_price = "187.25"

[orders.algo]
strategy = "Twap"

[orders.algo.params]
strategyType = "Marketable"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "gw.internal", cfg.Venue.Host)
	assert.Equal(t, 4002, cfg.Venue.Port)
	assert.Equal(t, int64(7), cfg.Venue.ClientID)
	assert.Equal(t, 5*time.Second, cfg.Venue.ConnectTimeout.Duration)
	assert.True(t, cfg.Venue.Reconnect, "untouched default survives")

	assert.Equal(t, 45*time.Second, cfg.Cycle.BatchTimeout.Duration)
	assert.Equal(t, 10*time.Second, cfg.Cycle.IdentifierTimeout.Duration)
	assert.Equal(t, "report", cfg.Cycle.UnmatchedExecutions)
	assert.Equal(t, "AAPL", cfg.Cycle.Filter.Symbol)

	require.Len(t, cfg.Orders, 1)
	o := cfg.Orders[0]
	assert.True(t, o.Quantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, o.LimitPrice.Equal(decimal.RequireFromString("187.25")))
	assert.Equal(t, "Twap", o.Algo.Strategy)
	assert.Equal(t, map[string]string{"strategyType": "Marketable"}, o.Algo.Params)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Venue, cfg.Venue)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EXECSYNC_VENUE_PORT", "7496")
	t.Setenv("EXECSYNC_VENUE_CLIENT_ID", "12")
	t.Setenv("EXECSYNC_CYCLE_BATCH_TIMEOUT", "2m")
	t.Setenv("EXECSYNC_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("EXECSYNC_REDIS_ENABLED", "true")
	t.Setenv("EXECSYNC_VENUE_RECONNECT", "not-a-bool")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, 7496, cfg.Venue.Port)
	assert.Equal(t, int64(12), cfg.Venue.ClientID)
	assert.Equal(t, 2*time.Minute, cfg.Cycle.BatchTimeout.Duration)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Venue.Reconnect, "unparseable value is ignored")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Venue.Port = 0
	cfg.Cycle.UnmatchedExecutions = "drop"
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil
	cfg.Venue.OrdersPerSecond = -1
	cfg.Server.Enabled = true
	cfg.Server.Port = 70000
	cfg.Orders = []OrderConfig{{Symbol: "AAPL", Action: "HOLD", Type: "LMT", Quantity: decimal.NewFromInt(1)}}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "config validation failed")
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "venue: port must be 1-65535")
	assert.Contains(t, msg, "cycle: unmatched_executions")
	assert.Contains(t, msg, "kafka: brokers must not be empty")
	assert.Contains(t, msg, "venue: orders_per_second must be >= 0")
	assert.Contains(t, msg, "server: port must be 1-65535")
	assert.Contains(t, msg, "orders[0]: action must be BUY or SELL")
	assert.Contains(t, msg, "orders[0]: limit_price must be > 0 for LMT")
}

func TestValidate_ModeSpecificRequirements(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModePlace
	assert.ErrorContains(t, cfg.Validate(), "at least one order is required")

	cfg = Defaults()
	cfg.Mode = ModeHistory
	cfg.S3.Bucket = ""
	assert.ErrorContains(t, cfg.Validate(), "s3: bucket must not be empty")

	cfg = Defaults()
	cfg.Mode = ModeWatch
	cfg.Cycle.Interval.Duration = 0
	assert.ErrorContains(t, cfg.Validate(), "interval must be > 0")

	cfg = Defaults()
	cfg.Mode = ModeTail
	assert.ErrorContains(t, cfg.Validate(), "redis: must be enabled for tail mode")
	cfg.Redis.Enabled = true
	assert.NoError(t, cfg.Validate())
	cfg.Redis.Channel, cfg.Redis.Stream = "", ""
	assert.ErrorContains(t, cfg.Validate(), "tail mode needs channel or stream")

	cfg = Defaults()
	cfg.Mode = ModeBars
	assert.ErrorContains(t, cfg.Validate(), "bars: symbol must not be empty")
	cfg.Bars.Symbol = "AAPL"
	assert.NoError(t, cfg.Validate())
	cfg.Bars.BarSize = ""
	assert.ErrorContains(t, cfg.Validate(), "bars: duration and bar_size")

	cfg = Defaults()
	cfg.Mode = ModeAccountUpdates
	assert.NoError(t, cfg.Validate(), "no accounts means every managed account")
	cfg.Account.Timeout.Duration = 0
	assert.ErrorContains(t, cfg.Validate(), "account: timeout must be > 0")

	cfg = Defaults()
	cfg.Mode = ModeOpenOrders
	assert.NoError(t, cfg.Validate())
}

func TestLoad_BarsSection(t *testing.T) {
	t.Setenv("EXECSYNC_BARS_BAR_SIZE", "1 hour")
	t.Setenv("EXECSYNC_ACCOUNT_ACCOUNTS", "DU1,DU2")

	cfg, err := Load(writeConfig(t, `
mode = "bars"

[bars]
symbol = "MSFT"
duration = "5 D"
use_rth = false
`))
	require.NoError(t, err)

	assert.Equal(t, "MSFT", cfg.Bars.Symbol)
	assert.Equal(t, "5 D", cfg.Bars.Duration)
	assert.Equal(t, "1 hour", cfg.Bars.BarSize)
	assert.False(t, cfg.Bars.UseRTH)
	assert.Equal(t, "TRADES", cfg.Bars.WhatToShow, "untouched default survives")
	assert.Equal(t, 30*time.Second, cfg.Bars.Timeout.Duration)
	assert.Equal(t, []string{"DU1", "DU2"}, cfg.Account.Accounts)
	require.NoError(t, cfg.Validate())
}

func TestVenueConfig_URL(t *testing.T) {
	v := VenueConfig{Host: "127.0.0.1", Port: 7497, Path: "/v1/api"}
	assert.Equal(t, "ws://127.0.0.1:7497/v1/api", v.URL())

	v.UseTLS = true
	v.Host = "gw.example.com"
	assert.Equal(t, "wss://gw.example.com:7497/v1/api", v.URL())
}

func TestRedactedConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.Redis.Password = "hunter2"
	cfg.Notify.TelegramToken = "tok"
	cfg.Server.APIKey = "key"

	out := RedactedConfig(cfg)

	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.S3.SecretKey, "empty secrets stay empty")

	out.Orders[0].Algo.Params["strategyType"] = "Passive"
	out.Kafka.Brokers[0] = "changed"
	assert.Equal(t, "Marketable", cfg.Orders[0].Algo.Params["strategyType"])
	assert.Equal(t, "localhost:9092", cfg.Kafka.Brokers[0])
	assert.Equal(t, "postgres://u:secret@db/execsync", cfg.Postgres.DSN)
}
