package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/outbox/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	Append(ctx context.Context, tx pgx.Tx, row *domain.OutboxEvent) error
	Claim(ctx context.Context, tx pgx.Tx, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id int64, reason string) error
	Backlog(ctx context.Context) (int64, error)
}

type OutboxProcessor struct {
	pool      *pgxpool.Pool
	repo      OutboxRepository
	transport bus.Transport
	logger    *zap.Logger
	metrics   *metrics.SagaMetrics
	batchSize int
	interval  time.Duration
	tracer    trace.Tracer
}

func NewOutboxProcessor(
	pool *pgxpool.Pool,
	repo OutboxRepository,
	transport bus.Transport,
	logger *zap.Logger,
	metrics *metrics.SagaMetrics,
	cfg config.Outbox,
) *OutboxProcessor {
	return &OutboxProcessor{
		pool:      pool,
		repo:      repo,
		transport: transport,
		logger:    logger,
		metrics:   metrics,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		tracer:    otel.Tracer("outbox/worker"),
	}
}

// Start relays pending rows until ctx is cancelled. A full batch is followed
// by another one straight away instead of waiting for the next tick.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	mylogger.Info(
		ctx,
		p.logger,
		"Starting outbox processor",
		zap.Int("batch_size", p.batchSize),
		zap.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, p.logger, "Outbox processor stopping")
			return nil
		case <-ticker.C:
		}

		for {
			published, err := p.ProcessBatch(ctx)
			if err != nil {
				mylogger.Error(ctx, p.logger, "Error processing outbox batch", zap.Error(err))
				break
			}
			// a batch with failures never counts as full
			if published < p.batchSize || ctx.Err() != nil {
				break
			}
		}

		p.reportBacklog(ctx)
	}
}

// ProcessBatch relays one batch and returns how many rows were published.
// Once a row of an aggregate fails, the later rows of that aggregate wait for
// the next batch so one order's events leave in the order they were written.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(cleanupCtx, p.logger, "Outbox worker failed to rollback transaction", zap.Error(err))
		}
	}()

	rows, err := p.repo.Claim(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	span.SetAttributes(attribute.Int("outbox.claimed", len(rows)))

	var published []int64
	blocked := map[string]bool{}
	for _, row := range rows {
		if blocked[row.AggregateID] {
			continue
		}

		if err := p.relay(ctx, row); err != nil {
			blocked[row.AggregateID] = true
			p.metrics.OutboxRelayed.WithLabelValues("failed").Inc()

			mylogger.Warn(
				ctx,
				p.logger,
				"Outbox relay failed",
				zap.String("event_id", row.EventID),
				zap.String("topic", row.Topic),
				zap.Int64("attempts", row.Attempts+1),
				zap.Error(err),
			)

			if err := p.repo.MarkFailed(ctx, tx, row.ID, err.Error()); err != nil {
				return 0, err
			}
			continue
		}

		published = append(published, row.ID)
		p.metrics.OutboxRelayed.WithLabelValues("published").Inc()
	}

	if err := p.repo.MarkPublished(ctx, tx, published); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit outbox batch: %w", err)
	}

	mylogger.Debug(
		ctx,
		p.logger,
		"Outbox batch relayed",
		zap.Int("claimed", len(rows)),
		zap.Int("published", len(published)),
	)

	return len(published), nil
}

func (p *OutboxProcessor) reportBacklog(ctx context.Context) {
	n, err := p.repo.Backlog(ctx)
	if err != nil {
		mylogger.Debug(ctx, p.logger, "Failed to read outbox backlog", zap.Error(err))
		return
	}
	p.metrics.OutboxBacklog.Set(float64(n))
}

func (p *OutboxProcessor) relay(ctx context.Context, row *domain.OutboxEvent) error {
	msg, err := row.Message()
	if err != nil {
		return err
	}

	if len(row.Headers) > 0 {
		carrier := propagation.MapCarrier{}
		if err := json.Unmarshal(row.Headers, &carrier); err == nil {
			ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
		}
	}

	return p.transport.Send(ctx, msg)
}
