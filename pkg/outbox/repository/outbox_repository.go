package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/pkg/outbox/domain"
	"github.com/sakashimaa/order-saga/pkg/outbox/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type outboxRepo struct {
	pool        *pgxpool.Pool
	tracer      trace.Tracer
	logger      *zap.Logger
	maxAttempts int
}

// NewOutboxRepository stores saga messages in the outbox table. Rows that
// failed maxAttempts times are parked: they stay in the table with their
// last_error but are no longer claimed.
func NewOutboxRepository(pool *pgxpool.Pool, logger *zap.Logger, maxAttempts int) worker.OutboxRepository {
	return &outboxRepo{
		pool:        pool,
		tracer:      otel.Tracer("outbox/repository"),
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

func (r *outboxRepo) Append(ctx context.Context, tx pgx.Tx, row *domain.OutboxEvent) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.Append", trace.WithAttributes(
		attribute.String("event_id", row.EventID),
		attribute.String("aggregate_id", row.AggregateID),
		attribute.String("topic", row.Topic),
	))
	defer span.End()

	const query = `
		INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, topic, payload, headers)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := tx.Exec(
		ctx,
		query,
		row.EventID,
		row.AggregateType,
		row.AggregateID,
		row.EventType,
		row.Topic,
		row.Payload,
		row.Headers,
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append %s to outbox: %w", row.EventType, err)
	}

	return nil
}

// Claim locks up to limit relayable rows in insertion order. Rows locked by
// another relay are skipped, so several relays never send the same row.
func (r *outboxRepo) Claim(ctx context.Context, tx pgx.Tx, limit int) ([]*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.Claim", trace.WithAttributes(
		attribute.Int("limit", limit),
	))
	defer span.End()

	const query = `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, topic, payload, headers, attempts, created_at
		FROM outbox
		WHERE published_at IS NULL AND attempts < $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, r.maxAttempts, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to claim outbox rows: %w", err)
	}

	claimed, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.OutboxEvent, error) {
		var e domain.OutboxEvent
		err := row.Scan(
			&e.ID,
			&e.EventID,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.Topic,
			&e.Payload,
			&e.Headers,
			&e.Attempts,
			&e.CreatedAt,
		)
		return &e, err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to scan outbox rows: %w", err)
	}

	span.SetAttributes(attribute.Int("claimed", len(claimed)))

	return claimed, nil
}

func (r *outboxRepo) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkPublished", trace.WithAttributes(
		attribute.Int("count", len(ids)),
	))
	defer span.End()

	const query = `
		UPDATE outbox
		SET published_at = NOW(), last_error = NULL
		WHERE id = ANY($1)
	`

	if _, err := tx.Exec(ctx, query, ids); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark %d outbox rows published: %w", len(ids), err)
	}

	return nil
}

func (r *outboxRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkFailed", trace.WithAttributes(
		attribute.Int64("outbox.id", id),
	))
	defer span.End()

	const query = `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`

	if _, err := tx.Exec(ctx, query, id, reason); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark outbox row %d failed: %w", id, err)
	}

	return nil
}

// Backlog counts rows still waiting for the relay, parked rows excluded.
func (r *outboxRepo) Backlog(ctx context.Context) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM outbox
		WHERE published_at IS NULL AND attempts < $1
	`

	var n int64
	if err := r.pool.QueryRow(ctx, query, r.maxAttempts).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox backlog: %w", err)
	}

	return n, nil
}
