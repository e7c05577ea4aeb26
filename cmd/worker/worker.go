package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/septivank/machine-telemetry-worker/internal/alert"
	"github.com/septivank/machine-telemetry-worker/internal/anomaly"
	"github.com/septivank/machine-telemetry-worker/internal/api"
	"github.com/septivank/machine-telemetry-worker/internal/config"
	"github.com/septivank/machine-telemetry-worker/internal/db"
	"github.com/septivank/machine-telemetry-worker/internal/mq"
	"github.com/septivank/machine-telemetry-worker/internal/notifier"
	"github.com/septivank/machine-telemetry-worker/internal/realtime"
	"github.com/septivank/machine-telemetry-worker/internal/repository"
	"github.com/septivank/machine-telemetry-worker/internal/service"
	"github.com/septivank/machine-telemetry-worker/internal/subscription"
	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
	"github.com/septivank/machine-telemetry-worker/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.ProcessorService,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.IngestConsumerConfig(conn, cfg.RabbitMQ, processor.ProcessMessage, logger))
	if err != nil {
		cancel()
		return nil, err
	}

	// Register lifecycle hooks
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting ingest consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("ingest consumer stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

func startNotifier(lc fx.Lifecycle, loop *notifier.Loop, publisher *mq.Publisher, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			go func() {
				defer close(done)
				if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("notification loop exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
			if err := publisher.Close(); err != nil {
				logger.Warn("failed to close publisher channel", zap.Error(err))
			}
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, server *http.Server, manager *realtime.Manager, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return fmt.Errorf("[HTTP] failed to listen on %s: %w", server.Addr, err)
			}
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", zap.Error(err))
				}
			}()
			logger.Info("http server listening", zap.String("addr", server.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// hijacked websocket connections are not tracked by Shutdown
			manager.CloseAll()
			if err := server.Shutdown(ctx); err != nil {
				logger.Error("http server shutdown failed", zap.Error(err))
				return err
			}
			logger.Info("http server stopped")
			return nil
		},
	})
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideAnomalyDetector creates the streaming detector from configuration
func ProvideAnomalyDetector(cfg *config.Config, logger *zap.Logger) (*anomaly.Detector, error) {
	ranges, err := config.ParseRanges(cfg.Anomaly.ExpectedRanges)
	if err != nil {
		return nil, err
	}
	table := anomaly.RangeTable(anomaly.DefaultRanges())
	for sensor, r := range ranges {
		table[sensor] = telemetry.Range{Min: r.Min, Max: r.Max}
	}

	detectorCfg := anomaly.DefaultConfig()
	detectorCfg.WindowCapacity = cfg.Anomaly.WindowCapacity
	detectorCfg.MinDataPoints = cfg.Anomaly.MinDataPoints
	detectorCfg.MaxKeys = cfg.Anomaly.MaxKeys
	detectorCfg.Forest.Trees = cfg.Anomaly.Trees
	detectorCfg.Forest.Contamination = cfg.Anomaly.Contamination
	detectorCfg.Forest.Seed = cfg.Anomaly.Seed
	detectorCfg.Thresholds = anomaly.Thresholds{
		High:   cfg.Anomaly.HighThreshold,
		Medium: cfg.Anomaly.MediumThreshold,
	}
	detectorCfg.Ranges = table

	return anomaly.NewDetector(detectorCfg, logger)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.TimestampToleranceMinutes)
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ, logger)
}

// ProvideProcessorService creates a new processor service instance
func ProvideProcessorService(
	repo *repository.Repository,
	validator *validator.Validator,
	logger *zap.Logger,
) *service.ProcessorService {
	return service.NewProcessorService(repo, validator, logger)
}

// ProvideSubscriptionRegistry creates the client/machine subscription index
func ProvideSubscriptionRegistry() *subscription.Registry {
	return subscription.NewRegistry()
}

// ProvideConnectionManager creates the realtime connection manager
func ProvideConnectionManager(registry *subscription.Registry, logger *zap.Logger) *realtime.Manager {
	return realtime.NewManager(registry, logger)
}

// ProvideAlertService creates the alert lifecycle backed by Postgres
func ProvideAlertService(repo *repository.Repository, manager *realtime.Manager, logger *zap.Logger) *alert.Service {
	return alert.NewService(repo, manager, logger)
}

// ProvideNotificationLoop creates the periodic detection loop
func ProvideNotificationLoop(
	repo *repository.Repository,
	detector *anomaly.Detector,
	alerts *alert.Service,
	manager *realtime.Manager,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *notifier.Loop {
	return notifier.NewLoop(repo, detector, alerts, manager, publisher, cfg.Notifier, logger)
}

// ProvideHTTPServer builds the HTTP server for realtime, health and alert routes
func ProvideHTTPServer(
	cfg *config.Config,
	pool *db.Pool,
	conn *mq.Connection,
	detector *anomaly.Detector,
	alerts *alert.Service,
	manager *realtime.Manager,
	logger *zap.Logger,
) *http.Server {
	handler := api.NewHandler(alerts, detector, manager, pool, conn, logger)
	ws := realtime.NewHandler(manager, cfg.WebSocket, logger)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServicePort),
		Handler:           api.NewRouter(handler, ws, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ)
}
