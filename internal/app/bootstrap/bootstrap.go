package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	votingsession "agora/contexts/governance/voting-session"
	"agora/contexts/governance/voting-session/adapters/memory"
	postgresadapter "agora/contexts/governance/voting-session/adapters/postgres"
	"agora/contexts/governance/voting-session/adapters/validation"
	workerapp "agora/contexts/governance/voting-session/application/workers"
	"agora/contexts/governance/voting-session/ports"
	"agora/internal/platform/config"
	"agora/internal/platform/db"
	"agora/internal/platform/httpserver"
	"agora/internal/platform/messaging"

	"github.com/ulule/limiter/v3"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"
	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	worker   *WorkerApp
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres     *db.Postgres
	outboxRelay  workerapp.OutboxRelay
	notification *workerapp.NotificationConsumer
	cfg          config.Config
	logger       *slog.Logger
}

// storage groups the ports one persistence backend satisfies.
type storage struct {
	sessions    ports.SessionRepository
	idempotency ports.IdempotencyStore
	outbox      ports.OutboxRepository
	dedup       ports.EventDedupStore
	clock       ports.Clock
	idGen       ports.IDGenerator
	postgres    *db.Postgres
}

func BuildAPI(ctx context.Context) (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg, "api")
	if strings.TrimSpace(cfg.SessionAdmin) == "" {
		return nil, errors.New("SESSION_ADMIN is required")
	}

	store, err := openStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	module := votingsession.NewModule(votingsession.Dependencies{
		Sessions:       store.sessions,
		Idempotency:    store.idempotency,
		Validator:      validation.TextValidator{MaxLength: cfg.ProposalMaxLength},
		Clock:          store.clock,
		IDGen:          store.idGen,
		SessionID:      cfg.SessionID,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger,
	})
	if _, err := module.Session.EnsureSession(ctx, cfg.SessionAdmin); err != nil {
		_ = store.postgres.Close()
		return nil, fmt.Errorf("ensure voting session: %w", err)
	}

	rateLimiter, err := newRateLimiter(cfg)
	if err != nil {
		_ = store.postgres.Close()
		return nil, err
	}

	app := &APIApp{
		server:   httpserver.New(module, rateLimiter, logger, normalizeAddr(cfg.HTTPPort)),
		postgres: store.postgres,
		logger:   logger,
	}

	// The in-memory backend is private to this process, so its outbox can
	// only be drained here.
	if cfg.EnableEmbeddedWorker || cfg.DatabaseType == config.DatabaseMemory {
		worker, err := newWorker(cfg, store, logger)
		if err != nil {
			_ = store.postgres.Close()
			return nil, err
		}
		app.worker = worker
	}
	return app, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg, "worker")
	if cfg.DatabaseType == config.DatabaseMemory {
		return nil, errors.New("worker process requires DATABASE_TYPE postgres or sqlite")
	}

	store, err := openStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	worker, err := newWorker(cfg, store, logger)
	if err != nil {
		_ = store.postgres.Close()
		return nil, err
	}
	return worker, nil
}

func openStorage(cfg config.Config, logger *slog.Logger) (storage, error) {
	switch cfg.DatabaseType {
	case config.DatabaseMemory:
		store := memory.NewStore(nil)
		return storage{
			sessions:    store,
			idempotency: store,
			outbox:      store,
			dedup:       store,
			clock:       store,
			idGen:       store,
		}, nil
	case config.DatabaseSQLite, config.DatabasePostgres:
		var (
			conn *db.Postgres
			err  error
		)
		if cfg.DatabaseType == config.DatabaseSQLite {
			conn, err = db.ConnectSQLite(cfg.SQLiteDSN)
		} else {
			if strings.TrimSpace(cfg.PostgresDSN) == "" {
				return storage{}, errors.New("POSTGRES_DSN is required")
			}
			conn, err = db.Connect(cfg.PostgresDSN)
		}
		if err != nil {
			return storage{}, err
		}
		if err := postgresadapter.AutoMigrate(conn.DB); err != nil {
			_ = conn.Close()
			return storage{}, fmt.Errorf("migrate voting session schema: %w", err)
		}
		repo := postgresadapter.NewRepository(conn.DB, logger)
		return storage{
			sessions:    repo,
			idempotency: repo,
			outbox:      repo,
			dedup:       repo,
			clock:       postgresadapter.SystemClock{},
			idGen:       postgresadapter.UUIDGenerator{},
			postgres:    conn,
		}, nil
	default:
		return storage{}, fmt.Errorf("unsupported DATABASE_TYPE %q", cfg.DatabaseType)
	}
}

func newWorker(cfg config.Config, store storage, logger *slog.Logger) (*WorkerApp, error) {
	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	worker := &WorkerApp{
		postgres: store.postgres,
		outboxRelay: workerapp.OutboxRelay{
			Outbox:    store.outbox,
			Publisher: kafka,
			Clock:     store.clock,
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		cfg:    cfg,
		logger: logger,
	}
	if cfg.EnableNotificationConsumer {
		consumer := &workerapp.NotificationConsumer{
			Subscriber:    kafka,
			Dedup:         store.dedup,
			Clock:         store.clock,
			ConsumerGroup: "voting-session-notification-cg",
			DedupTTL:      cfg.IdempotencyTTL,
			Logger:        logger,
		}
		consumer.Register(workerapp.LogObserver(logger))
		worker.notification = consumer
	}
	return worker, nil
}

func newLogger(cfg config.Config, process string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	logger := slog.New(handler).With("service", cfg.ServiceName, "process", process)
	slog.SetDefault(logger)
	return logger
}

func newRateLimiter(cfg config.Config) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT %q: %w", cfg.RateLimit, err)
	}
	store := limitermemory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          cfg.ServiceName + ":limiter",
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	})
	return limiter.New(store, rate), nil
}

// Run serves HTTP and, when embedded, drives the worker loops until ctx is
// cancelled or one of them fails.
func (a *APIApp) Run(ctx context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
			"embedded_worker", a.worker != nil,
		)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.server.Start(groupCtx)
	})
	if a.worker != nil {
		group.Go(func() error {
			return a.worker.Run(groupCtx)
		})
	}
	return group.Wait()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if w.notification != nil {
		if err := w.notification.Start(ctx); err != nil {
			return err
		}
	}

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.cfg.OutboxPollInterval.String(),
		"notification_consumer", w.notification != nil,
	)
	return w.outboxRelay.Run(ctx, w.cfg.OutboxPollInterval)
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
