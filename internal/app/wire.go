package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/execsync/internal/blob/s3"
	"github.com/alanyoungcy/execsync/internal/cache/redis"
	"github.com/alanyoungcy/execsync/internal/config"
	"github.com/alanyoungcy/execsync/internal/correlate"
	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/notify"
	"github.com/alanyoungcy/execsync/internal/platform/venue"
	"github.com/alanyoungcy/execsync/internal/server"
	"github.com/alanyoungcy/execsync/internal/server/handler"
	"github.com/alanyoungcy/execsync/internal/service"
	"github.com/alanyoungcy/execsync/internal/store/postgres"
	"github.com/alanyoungcy/execsync/internal/stream/kafka"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Venue
	Session *venue.Session
	Ingress *correlate.Ingress
	Engine  *correlate.Engine
	IDs     *correlate.IDSource

	// Stores
	FillStore    domain.FillStore
	AnomalyStore domain.AnomalyStore
	AuditStore   domain.AuditStore

	// Redis
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	SeenSet     domain.SeenSet
	RateLimiter domain.RateLimiter

	// Sinks
	Archiver *s3blob.Archiver
	Producer *kafka.Producer
	Notifier *notify.Notifier

	// Services
	Reconcile  *service.ReconcileService
	Orders     *service.OrderService
	Account    *service.AccountService
	OpenOrders *service.OpenOrderService
	Portfolio  *service.PortfolioService
	Bars       *service.BarService
	History    *service.HistoryService
	Tail       *service.TailService

	// Dedup is the in-process seen set, set only when Redis is not wired.
	Dedup *service.Dedup

	// Server is the status API, set only in watch mode with server.enabled.
	Server *server.Server
}

// needsVenue returns true for modes that talk to the gateway.
func needsVenue(mode string) bool {
	return mode != config.ModeHistory && mode != config.ModeTail
}

// runsCycles returns true for modes that run correlation cycles.
func runsCycles(mode string) bool {
	return mode == config.ModeExecutions || mode == config.ModeWatch
}

// needsPostgres returns true for modes that read or write the database.
func needsPostgres(cfg *config.Config) bool {
	if !cfg.Postgres.Enabled {
		return false
	}
	switch cfg.Mode {
	case config.ModeExecutions, config.ModeWatch, config.ModePlace, config.ModeHistory:
		return true
	default:
		return false
	}
}

// needsRedis returns true when cycles should lock, publish and dedup via
// Redis, when place mode is paced, or when tail reads the fan-out back.
func needsRedis(cfg *config.Config) bool {
	if !cfg.Redis.Enabled {
		return false
	}
	switch {
	case runsCycles(cfg.Mode), cfg.Mode == config.ModeTail:
		return true
	case cfg.Mode == config.ModePlace:
		return cfg.Venue.OrdersPerSecond > 0
	default:
		return false
	}
}

// needsS3 returns true for modes that write or read the cycle archive.
func needsS3(cfg *config.Config) bool {
	if cfg.Mode == config.ModeHistory {
		return true
	}
	return cfg.S3.Enabled && runsCycles(cfg.Mode)
}

// needsServer returns true when watch mode should serve the status API.
func needsServer(cfg *config.Config) bool {
	return cfg.Server.Enabled && cfg.Mode == config.ModeWatch
}

// needsKafka returns true when fills should go to Kafka.
func needsKafka(cfg *config.Config) bool {
	return cfg.Kafka.Enabled && runsCycles(cfg.Mode)
}

// executionFilter maps the configured filter onto the venue request filter.
func executionFilter(f config.FilterConfig) domain.ExecutionFilter {
	return domain.ExecutionFilter{
		ClientID: f.ClientID,
		AcctCode: f.AcctCode,
		Time:     f.Time,
		Symbol:   strings.ToUpper(f.Symbol),
		SecType:  strings.ToUpper(f.SecType),
		Exchange: strings.ToUpper(f.Exchange),
		Side:     strings.ToUpper(f.Side),
	}
}

// barQuery maps the configured bars selection onto a venue bar query.
func barQuery(b config.BarsConfig) domain.BarQuery {
	return domain.BarQuery{
		Contract: domain.Contract{
			Symbol:   strings.ToUpper(b.Symbol),
			SecType:  strings.ToUpper(b.SecType),
			Exchange: strings.ToUpper(b.Exchange),
			Currency: strings.ToUpper(b.Currency),
		},
		EndDateTime: b.EndDateTime,
		Duration:    b.Duration,
		BarSize:     b.BarSize,
		WhatToShow:  strings.ToUpper(b.WhatToShow),
		UseRTH:      b.UseRTH,
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Nothing here dials the venue;
// modes connect the session themselves.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.FillStore = postgres.NewFillStore(pool)
		deps.AnomalyStore = postgres.NewAnomalyStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if needsRedis(cfg) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		switch {
		case cfg.Mode == config.ModeTail:
			deps.SignalBus = redis.NewSignalBus(redisClient)
		case runsCycles(cfg.Mode):
			locks := redis.NewLockManager(redisClient)
			locks.OnUnlockError(func(key string, err error) {
				logger.Warn("release cycle lock failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			})
			deps.LockManager = locks
			deps.SignalBus = redis.NewSignalBus(redisClient)
			deps.SeenSet = redis.NewSeenSet(redisClient, "fills", cfg.Cycle.DedupTTL.Duration)
		default:
			deps.RateLimiter = redis.NewRateLimiter(redisClient)
		}
	} else if cfg.Mode == config.ModeWatch {
		deps.Dedup = service.NewDedup(cfg.Cycle.DedupTTL.Duration)
		deps.SeenSet = deps.Dedup
	}

	// --- S3 cycle archive ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		bucket := s3blob.NewBucket(s3Client)
		deps.Archiver = s3blob.NewArchiver(bucket, bucket, cfg.S3.Prefix)
	}

	// --- Kafka ---
	if needsKafka(cfg) {
		producer := kafka.NewProducer(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout.Duration,
		})
		closers = append(closers, func() {
			if err := producer.Close(); err != nil {
				logger.Warn("close kafka producer", slog.String("error", err.Error()))
			}
		})
		deps.Producer = producer
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if cfg.Mode == config.ModeTail {
		if deps.SignalBus == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: tail mode needs redis")
		}
		deps.Tail = service.NewTailService(deps.SignalBus, cfg.Redis.Channel, cfg.Redis.Stream, logger)
		return deps, cleanup, nil
	}

	if !needsVenue(cfg.Mode) {
		var library service.CycleLibrary
		if deps.Archiver != nil {
			library = deps.Archiver
		}
		deps.History = service.NewHistoryService(library, deps.FillStore)
		return deps, cleanup, nil
	}

	// --- Venue session and correlation engine ---
	// The ingress is built before the services it routes request errors to.
	deps.Ingress = correlate.NewIngress(func(reqErr *domain.RequestError) {
		if deps.Bars != nil && deps.Bars.OnRequestError(reqErr) {
			return
		}
		if deps.Orders != nil {
			deps.Orders.OnRequestError(reqErr)
		}
	}, logger)

	deps.Session = venue.NewSession(venue.Config{
		URL:            cfg.Venue.URL(),
		ClientID:       cfg.Venue.ClientID,
		ConnectTimeout: cfg.Venue.ConnectTimeout.Duration,
		Reconnect:      cfg.Venue.Reconnect,
	}, deps.Ingress, logger)
	closers = append(closers, func() { _ = deps.Session.Close() })

	deps.Engine = correlate.NewEngine(
		deps.Session,
		deps.Ingress,
		domain.UnmatchedPolicy(cfg.Cycle.UnmatchedExecutions),
		logger,
	)
	deps.IDs = correlate.NewIDSource(deps.Session, deps.Ingress)

	// --- Services ---
	deps.Reconcile = buildReconcile(cfg, deps, logger)
	deps.Orders = service.NewOrderService(
		deps.IDs, deps.Session, cfg.Cycle.IdentifierTimeout.Duration,
		deps.AuditStore, deps.Notifier, logger,
	)
	if deps.RateLimiter != nil {
		deps.Orders.WithPacing(deps.RateLimiter,
			fmt.Sprintf("orders:%d", cfg.Venue.ClientID), cfg.Venue.OrdersPerSecond)
	}
	deps.Account = service.NewAccountService(
		deps.IDs, deps.Session, cfg.Cycle.IdentifierTimeout.Duration, logger,
	)
	deps.Session.OnAccountSummary(deps.Account.OnAccountValue)
	deps.Session.OnAccountSummaryEnd(deps.Account.OnSummaryEnd)

	deps.OpenOrders = service.NewOpenOrderService(deps.Session, logger)
	deps.Session.OnOpenOrder(deps.OpenOrders.OnOpenOrder)
	deps.Session.OnOrderStatus(deps.OpenOrders.OnOrderStatus)
	deps.Session.OnOpenOrderEnd(deps.OpenOrders.OnOpenOrderEnd)

	deps.Portfolio = service.NewPortfolioService(deps.Session, logger)
	deps.Session.OnAccountUpdate(deps.Portfolio.OnAccountUpdate)
	deps.Session.OnPortfolioUpdate(deps.Portfolio.OnPortfolioUpdate)
	deps.Session.OnAccountDownloadEnd(deps.Portfolio.OnDownloadEnd)

	deps.Bars = service.NewBarService(
		deps.IDs, deps.Session, cfg.Cycle.IdentifierTimeout.Duration, logger,
	)
	deps.Session.OnHistoricalBar(deps.Bars.OnBar)
	deps.Session.OnHistoricalBarsEnd(deps.Bars.OnBarsEnd)

	if needsServer(cfg) {
		deps.Server = buildServer(cfg, deps, logger)
	}

	return deps, cleanup, nil
}

// buildServer registers the status handlers over the wired session, cycle
// service and fill store.
func buildServer(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *server.Server {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Session),
		Status: handler.NewStatusHandler(cfg.Mode, deps.Reconcile),
	}
	if deps.FillStore != nil {
		handlers.Fills = handler.NewFillHandler(deps.FillStore, logger)
	}
	if deps.AnomalyStore != nil {
		handlers.Anomalies = handler.NewAnomalyHandler(deps.AnomalyStore, logger)
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, logger)
	}
	return server.NewServer(server.Config{
		Port:   cfg.Server.Port,
		APIKey: cfg.Server.APIKey,
	}, handlers, logger.With(slog.String("component", "server")))
}

// buildReconcile attaches every wired sink to a new ReconcileService.
func buildReconcile(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *service.ReconcileService {
	svc := service.NewReconcileService(deps.Engine, service.ReconcileOptions{
		ClientID:          cfg.Venue.ClientID,
		IdentifierTimeout: cfg.Cycle.IdentifierTimeout.Duration,
		BatchTimeout:      cfg.Cycle.BatchTimeout.Duration,
		Filter:            executionFilter(cfg.Cycle.Filter),
		LockTTL:           cfg.Cycle.LockTTL.Duration,
		Channel:           cfg.Redis.Channel,
		Stream:            cfg.Redis.Stream,
	}, logger).WithNotifier(deps.Notifier)

	if deps.FillStore != nil {
		svc.WithStores(deps.FillStore, deps.AnomalyStore)
	}
	if deps.AuditStore != nil {
		svc.WithAudit(deps.AuditStore)
	}
	if deps.SignalBus != nil {
		svc.WithBus(deps.SignalBus)
	}
	if deps.SeenSet != nil {
		svc.WithDedup(deps.SeenSet)
	}
	if deps.Producer != nil {
		svc.WithPublisher(deps.Producer)
	}
	if deps.Archiver != nil {
		svc.WithArchiver(deps.Archiver)
	}
	if deps.LockManager != nil {
		svc.WithLocks(deps.LockManager)
	}
	return svc
}
