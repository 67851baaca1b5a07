package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/execsync/internal/config"
	"github.com/alanyoungcy/execsync/internal/service"
)

const defaultConfigPath = "config.toml"

// rootOptions holds the global flags.
type rootOptions struct {
	configPath    string
	configChanged bool
	logLevel      string
}

// resolveConfigPath returns the file to load. A missing default config file
// means built-in defaults plus environment overrides.
func (o *rootOptions) resolveConfigPath() string {
	if o.configChanged {
		return o.configPath
	}
	if _, err := os.Stat(o.configPath); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return o.configPath
}

// modeOptions carries the flags of the subcommands that take any.
type modeOptions struct {
	History service.HistoryQuery
	Tail    service.TailOptions
	Bars    barFlags
}

// barFlags override the [bars] section. Empty values keep the configuration.
type barFlags struct {
	Symbol   string
	End      string
	Duration string
	BarSize  string
}

// apply writes the set flags over b.
func (f barFlags) apply(b *config.BarsConfig) {
	for _, o := range []struct {
		dst *string
		val string
	}{
		{&b.Symbol, f.Symbol},
		{&b.EndDateTime, f.End},
		{&b.Duration, f.Duration},
		{&b.BarSize, f.BarSize},
	} {
		if o.val != "" {
			*o.dst = o.val
		}
	}
}

// runFunc runs one mode. Tests replace it.
type runFunc func(opts *rootOptions, mode string, mo modeOptions) error

func newRootCommand() *cobra.Command {
	return newRootCommandWith(run)
}

func newRootCommandWith(runner runFunc) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "execsync",
		Short: "Reconcile venue executions with their commission reports",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.configChanged = cmd.Flags().Changed("config")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level (debug|info|warn|error)")

	modes := []struct {
		mode  string
		short string
	}{
		{config.ModeCheck, "Connect to the gateway, wait for the handshake and disconnect"},
		{config.ModeExecutions, "Run one correlation cycle and print the correlated fills"},
		{config.ModeWatch, "Run a correlation cycle every cycle.interval"},
		{config.ModePlace, "Place the orders listed in the configuration"},
		{config.ModeAccountSummary, "Print the account summary"},
		{config.ModeCancelAll, "Cancel every open order"},
		{config.ModeOpenOrders, "Print every working order with its latest status"},
		{config.ModeAccountUpdates, "Print account values and positions of each account"},
	}
	for _, m := range modes {
		mode := m.mode
		cmd.AddCommand(&cobra.Command{
			Use:   mode,
			Short: m.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runner(opts, mode, modeOptions{})
			},
		})
	}
	cmd.AddCommand(newHistoryCommand(opts, runner))
	cmd.AddCommand(newTailCommand(opts, runner))
	cmd.AddCommand(newBarsCommand(opts, runner))

	return cmd
}

func newHistoryCommand(opts *rootOptions, runner runFunc) *cobra.Command {
	var (
		since time.Duration
		q     service.HistoryQuery
	)

	cmd := &cobra.Command{
		Use:   config.ModeHistory,
		Short: "List archived cycles or query stored fills",
		Long: `List archived correlation cycles, newest first. With --exec-id,
--account or --symbol, query stored fills instead.

Example:
  execsync history --since 72h --limit 5
  execsync history --symbol AAPL`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since < 0 {
				return fmt.Errorf("--since must not be negative")
			}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			return runner(opts, config.ModeHistory, modeOptions{History: q})
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "look back this far (0 for everything)")
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "maximum number of cycles or fills")
	cmd.Flags().StringVar(&q.ExecID, "exec-id", "", "show the stored fill with this exec id")
	cmd.Flags().StringVar(&q.Account, "account", "", "list stored fills for this account")
	cmd.Flags().StringVar(&q.Symbol, "symbol", "", "list stored fills for this symbol")

	return cmd
}

func newTailCommand(opts *rootOptions, runner runFunc) *cobra.Command {
	var (
		noReplay bool
		to       service.TailOptions
	)

	cmd := &cobra.Command{
		Use:   config.ModeTail,
		Short: "Print the fills published by watch cycles",
		Long: `Replay the fill stream from Redis, then follow the fill channel
until interrupted. Requires redis.enabled.

Example:
  execsync tail
  execsync tail --from 1718000000000-0 --follow=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			to.Replay = !noReplay
			if !to.Replay && !to.Follow {
				return fmt.Errorf("nothing to do with --no-replay and --follow=false")
			}
			return runner(opts, config.ModeTail, modeOptions{Tail: to})
		},
	}

	cmd.Flags().BoolVar(&noReplay, "no-replay", false, "skip the stream and only follow live fills")
	cmd.Flags().StringVar(&to.FromID, "from", "", "replay stream entries after this id")
	cmd.Flags().BoolVar(&to.Follow, "follow", true, "keep printing live fills")

	return cmd
}

func newBarsCommand(opts *rootOptions, runner runFunc) *cobra.Command {
	var f barFlags

	cmd := &cobra.Command{
		Use:   config.ModeBars,
		Short: "Print historical bars for one contract",
		Long: `Fetch historical bars for the contract in the [bars] section. Flags
override the configured values.

Example:
  execsync bars --symbol AAPL
  execsync bars --symbol MSFT --duration "5 D" --bar-size "1 hour"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runner(opts, config.ModeBars, modeOptions{Bars: f})
		},
	}

	cmd.Flags().StringVar(&f.Symbol, "symbol", "", "contract symbol")
	cmd.Flags().StringVar(&f.End, "end", "", `last bar time, "yyyymmdd hh:mm:ss" (default now)`)
	cmd.Flags().StringVar(&f.Duration, "duration", "", `how far back, e.g. "1 M" or "5 D"`)
	cmd.Flags().StringVar(&f.BarSize, "bar-size", "", `bar size, e.g. "1 day" or "5 mins"`)

	return cmd
}
