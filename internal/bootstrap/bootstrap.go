// Package bootstrap holds the start-up and shutdown sequence shared by the
// saga services.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/db"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	outboxRepository "github.com/sakashimaa/order-saga/pkg/outbox/repository"
	"github.com/sakashimaa/order-saga/pkg/outbox/worker"
	"github.com/sakashimaa/order-saga/pkg/utils"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type Service struct {
	Name     string
	Cfg      *config.Config
	Logger   *zap.Logger
	Pool     *pgxpool.Pool
	Producer kafka.Producer
	Outbox   worker.OutboxRepository
	Registry *prometheus.Registry
	Metrics  *metrics.SagaMetrics

	tp *sdktrace.TracerProvider
}

// Start loads configuration and opens every shared resource. Topics are
// provisioned before the first consumer joins its group.
func Start(ctx context.Context, name string) (*Service, error) {
	cfg := config.MustLoad()

	logger, err := config.NewLogger(cfg.LoggerConfig(name))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	s := &Service{
		Name:     name,
		Cfg:      cfg,
		Logger:   logger,
		Registry: metrics.NewRegistry(),
	}
	s.Metrics = metrics.NewSagaMetrics(s.Registry, metricsSubsystem(name))

	s.tp, err = utils.InitTracer(ctx, name, cfg.Tracing, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracer: %w", err)
	}

	s.Pool, err = db.NewPostgresDB(ctx, cfg.Postgres)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := kafka.EnsureTopics(ctx, cfg.Kafka, domain.AllRoutingKeys); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to provision topics: %w", err)
	}

	s.Producer, err = kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	s.Outbox = outboxRepository.NewOutboxRepository(s.Pool, logger, cfg.Outbox.MaxAttempts)

	mylogger.Info(ctx, logger, "Service started", zap.String("env", cfg.Env))

	return s, nil
}

// Relay returns the outbox relay loop. Exactly one process should run it
// against a database.
func (s *Service) Relay() func(ctx context.Context) error {
	processor := worker.NewOutboxProcessor(s.Pool, s.Outbox, s.Producer, s.Logger, s.Metrics, s.Cfg.Outbox)
	return processor.Start
}

// Run serves app and runs every loop until ctx is cancelled or one of them
// fails, then shuts app down.
func (s *Service) Run(ctx context.Context, app *fiber.App, loops ...func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, loop := range loops {
		g.Go(func() error {
			return loop(ctx)
		})
	}

	g.Go(func() error {
		mylogger.Info(ctx, s.Logger, "HTTP listening", zap.String("port", s.Cfg.HTTP.Port))
		return app.Listen(s.Cfg.HTTP.Port)
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return app.ShutdownWithContext(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.Producer != nil {
		if err := s.Producer.Close(); err != nil {
			mylogger.Warn(shutdownCtx, s.Logger, "Failed to close producer", zap.Error(err))
		}
	}

	if s.Pool != nil {
		s.Pool.Close()
	}

	if s.tp != nil {
		if err := s.tp.Shutdown(shutdownCtx); err != nil {
			mylogger.Warn(shutdownCtx, s.Logger, "Failed to shut down telemetry", zap.Error(err))
		}
	}

	_ = s.Logger.Sync()
}

func metricsSubsystem(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
