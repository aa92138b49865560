package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/fraudflow/internal/aggregation"
	"github.com/ayo6706/fraudflow/internal/api"
	"github.com/ayo6706/fraudflow/internal/api/handler"
	"github.com/ayo6706/fraudflow/internal/api/middleware"
	"github.com/ayo6706/fraudflow/internal/config"
	"github.com/ayo6706/fraudflow/internal/consumer"
	"github.com/ayo6706/fraudflow/internal/db"
	"github.com/ayo6706/fraudflow/internal/idempotency"
	"github.com/ayo6706/fraudflow/internal/ledger"
	"github.com/ayo6706/fraudflow/internal/messaging"
	"github.com/ayo6706/fraudflow/internal/observability"
	"github.com/ayo6706/fraudflow/internal/repository"
	"github.com/ayo6706/fraudflow/internal/service"
	"github.com/ayo6706/fraudflow/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run bootstraps the HTTP server, consumers and workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	publisher := messaging.NewKafkaPublisher(cfg.KafkaBrokers)
	defer publisher.Close()

	store := repository.NewStore(pool)
	c := NewComponents(cfg, store, redisClient, publisher)

	g, gctx := errgroup.WithContext(ctx)

	for _, route := range consumer.Routes(cfg.KafkaGroupPrefix, c.Coordinator, c.Settlement) {
		reader := messaging.NewReader(cfg.KafkaBrokers, route.GroupID, route.Topic)
		runner := messaging.NewConsumer(route.GroupID+"/"+route.Topic, reader, route.Handler, publisher, messaging.ConsumerConfig{
			MaxRetries:   cfg.ConsumerMaxRetries,
			RetryBackoff: cfg.ConsumerRetryBackoff,
		}, logger)
		g.Go(func() error {
			defer reader.Close()
			return runner.Run(gctx)
		})
	}

	relayWorker := worker.NewOutboxRelayWorker(c.Relay).WithPollInterval(cfg.OutboxPollInterval)
	sweeper := worker.NewSettlementSweeper(c.Settlement).
		WithInterval(cfg.SettlementSweepInterval).
		WithBatchSize(cfg.SettlementBatchSize)
	g.Go(func() error {
		relayWorker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})
	logger.Info("workers started", zap.Stringer("relay", relayWorker), zap.Stringer("sweeper", sweeper))

	auth := middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	health := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": store,
		"redis":    redisPinger{redisClient},
		"kafka":    publisher,
	})
	router := api.NewRouter(cfg, logger, auth, health, api.Services{
		Transactions: c.Ingest,
		Decisions:    c.Decisions,
		Outbox:       c.Relay,
		Transfers:    c.Settlement,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// Components are the wired services shared by the server and fraudctl.
type Components struct {
	Ingest      *service.IngestService
	Relay       *service.OutboxRelay
	Coordinator *service.FinalizationCoordinator
	Settlement  *service.SettlementService
	Decisions   *service.DecisionService
}

func NewComponents(cfg *config.Config, store *repository.Store, rdb redis.Cmdable, publisher messaging.Publisher) *Components {
	return &Components{
		Ingest:      service.NewIngestService(store, cfg.HighValueLimitEnabled),
		Relay:       NewRelay(cfg, store, publisher),
		Coordinator: service.NewFinalizationCoordinator(
			aggregation.NewStore(rdb, cfg.AggregationTTL),
			idempotency.NewMarker(rdb, cfg.FinalizationMarkerTTL),
			store,
			publisher,
			cfg.OutboxLease,
		),
		Settlement: NewSettlement(cfg, store),
		Decisions:  service.NewDecisionService(store),
	}
}

func NewRelay(cfg *config.Config, store service.OutboxStore, publisher messaging.Publisher) *service.OutboxRelay {
	return service.NewOutboxRelay(store, publisher, service.RelayConfig{
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.OutboxMaxAttempts,
		BaseBackoff: cfg.OutboxBaseBackoff,
		Lease:       cfg.OutboxLease,
	})
}

func NewSettlement(cfg *config.Config, store service.TransferStore) *service.SettlementService {
	return service.NewSettlementService(store, NewLedger(cfg), service.NewNotificationService(zap.L()))
}

// NewLedger picks the in-process mock or the HTTP ledger client.
func NewLedger(cfg *config.Config) ledger.Ledger {
	if cfg.LedgerMock {
		zap.L().Warn("using mock ledger; balances are not moved")
		return ledger.NewMockLedger()
	}
	return ledger.NewHTTPClient(cfg.LedgerURL, cfg.LedgerTimeout)
}

func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

type redisPinger struct {
	client redis.Cmdable
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
