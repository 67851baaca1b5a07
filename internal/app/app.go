// Package app provides the top-level application lifecycle for execsync. It
// wires the venue session, the correlation engine and every configured sink,
// then runs the operating mode selected in the configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/execsync/internal/config"
	"github.com/alanyoungcy/execsync/internal/service"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer
	history service.HistoryQuery
	tail    service.TailOptions
	closers []func()
}

// New creates a new App from the given configuration and logger. Mode output
// goes to stdout.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		out:    os.Stdout,
	}
}

// WithOutput redirects mode output (records, summaries, history) to w.
func (a *App) WithOutput(w io.Writer) *App {
	a.out = w
	return a
}

// WithHistoryQuery sets what history mode reads back.
func (a *App) WithHistoryQuery(q service.HistoryQuery) *App {
	a.history = q
	return a
}

// WithTailOptions sets what tail mode replays and follows.
func (a *App) WithTailOptions(o service.TailOptions) *App {
	a.tail = o
	return a
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode and blocks until the mode returns or the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.cfg.Mode = strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch a.cfg.Mode {
	case config.ModeCheck:
		return a.CheckMode(ctx, deps)
	case config.ModeExecutions:
		return a.ExecutionsMode(ctx, deps)
	case config.ModeWatch:
		return a.WatchMode(ctx, deps)
	case config.ModePlace:
		return a.PlaceMode(ctx, deps)
	case config.ModeAccountSummary:
		return a.AccountSummaryMode(ctx, deps)
	case config.ModeCancelAll:
		return a.CancelAllMode(ctx, deps)
	case config.ModeHistory:
		return a.HistoryMode(ctx, deps)
	case config.ModeTail:
		return a.TailMode(ctx, deps)
	case config.ModeOpenOrders:
		return a.OpenOrdersMode(ctx, deps)
	case config.ModeAccountUpdates:
		return a.AccountUpdatesMode(ctx, deps)
	case config.ModeBars:
		return a.BarsMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
