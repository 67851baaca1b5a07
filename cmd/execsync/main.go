// Command execsync is the entry point for the execution/commission
// reconciler. Each subcommand selects an operating mode; the shared flow
// loads configuration, validates it, sets up signal handling and runs the
// application in that mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/execsync/internal/app"
	"github.com/alanyoungcy/execsync/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run loads the configuration, forces mode and runs the application until it
// returns or SIGINT/SIGTERM arrives.
func run(opts *rootOptions, mode string, mo modeOptions) error {
	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.resolveConfigPath())
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", opts.configPath),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Mode = mode
	mo.Bars.apply(&cfg.Bars)
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}

	logger.Info("execsync starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", opts.configPath),
		slog.Any("venue", config.RedactedConfig(cfg).Venue),
	)

	application := app.New(cfg, logger).
		WithHistoryQuery(mo.History).
		WithTailOptions(mo.Tail)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
			return nil
		}
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("execsync stopped")
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
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
