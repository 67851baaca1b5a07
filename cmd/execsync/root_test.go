package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execsync/internal/config"
	"github.com/alanyoungcy/execsync/internal/service"
)

type invocation struct {
	opts    *rootOptions
	mode    string
	history service.HistoryQuery
	tail    service.TailOptions
	bars    barFlags
}

func execute(t *testing.T, args ...string) invocation {
	t.Helper()
	var got invocation
	cmd := newRootCommandWith(func(opts *rootOptions, mode string, mo modeOptions) error {
		got = invocation{opts: opts, mode: mode, history: mo.History, tail: mo.Tail, bars: mo.Bars}
		return nil
	})
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return got
}

func TestSubcommandsSelectMode(t *testing.T) {
	for _, mode := range []string{
		config.ModeCheck,
		config.ModeExecutions,
		config.ModeWatch,
		config.ModePlace,
		config.ModeAccountSummary,
		config.ModeCancelAll,
		config.ModeHistory,
		config.ModeTail,
		config.ModeOpenOrders,
		config.ModeAccountUpdates,
		config.ModeBars,
	} {
		t.Run(mode, func(t *testing.T) {
			got := execute(t, mode)
			assert.Equal(t, mode, got.mode)
			assert.Equal(t, defaultConfigPath, got.opts.configPath)
			assert.False(t, got.opts.configChanged)
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	got := execute(t, "--config", "/etc/execsync.toml", "--log-level", "debug", "watch")
	assert.Equal(t, "/etc/execsync.toml", got.opts.configPath)
	assert.True(t, got.opts.configChanged)
	assert.Equal(t, "debug", got.opts.logLevel)
}

func TestHistoryFlags(t *testing.T) {
	before := time.Now()
	got := execute(t, "history", "--since", "2h", "--limit", "5", "--symbol", "AAPL")

	assert.Equal(t, 5, got.history.Limit)
	assert.Equal(t, "AAPL", got.history.Symbol)
	assert.True(t, got.history.WantsFills())
	assert.WithinDuration(t, before.Add(-2*time.Hour), got.history.Since, time.Minute)

	got = execute(t, "history", "--since", "0")
	assert.True(t, got.history.Since.IsZero())
	assert.Equal(t, 20, got.history.Limit)
}

func TestTailFlags(t *testing.T) {
	got := execute(t, "tail")
	assert.Equal(t, service.TailOptions{Replay: true, Follow: true}, got.tail)

	got = execute(t, "tail", "--from", "17-0", "--follow=false")
	assert.Equal(t, service.TailOptions{Replay: true, FromID: "17-0"}, got.tail)

	got = execute(t, "tail", "--no-replay")
	assert.Equal(t, service.TailOptions{Follow: true}, got.tail)

	cmd := newRootCommandWith(func(*rootOptions, string, modeOptions) error { return nil })
	cmd.SetArgs([]string{"tail", "--no-replay", "--follow=false"})
	assert.Error(t, cmd.Execute())
}

func TestBarsFlags(t *testing.T) {
	got := execute(t, "bars", "--symbol", "MSFT", "--bar-size", "1 hour")
	assert.Equal(t, barFlags{Symbol: "MSFT", BarSize: "1 hour"}, got.bars)

	b := config.Defaults().Bars
	got.bars.apply(&b)
	assert.Equal(t, "MSFT", b.Symbol)
	assert.Equal(t, "1 hour", b.BarSize)
	assert.Equal(t, "1 M", b.Duration, "unset flags keep the configured value")
	assert.Empty(t, b.EndDateTime)
}

func TestUnknownSubcommand(t *testing.T) {
	cmd := newRootCommandWith(func(*rootOptions, string, modeOptions) error { return nil })
	cmd.SetArgs([]string{"trade"})
	assert.Error(t, cmd.Execute())
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(existing, []byte(`mode = "check"`), 0o600))

	opts := &rootOptions{configPath: existing}
	assert.Equal(t, existing, opts.resolveConfigPath())

	opts = &rootOptions{configPath: filepath.Join(dir, "missing.toml")}
	assert.Equal(t, "", opts.resolveConfigPath(), "missing default falls back to built-in defaults")

	opts.configChanged = true
	assert.Equal(t, filepath.Join(dir, "missing.toml"), opts.resolveConfigPath(), "an explicit path is always loaded")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warn").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("verbose").String())
}
