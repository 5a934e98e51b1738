package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrAlreadyProcessed is returned when consumer already committed eventID.
var ErrAlreadyProcessed = errors.New("event already processed")

// ProcessWithDeduplication runs action at most once per (consumer, eventID).
// The processed_events row and the action share one transaction, so a failed
// action leaves the event eligible for redelivery.
func ProcessWithDeduplication(
	ctx context.Context,
	pool *pgxpool.Pool,
	logger *zap.Logger,
	consumer string,
	eventID string,
	action func(ctx context.Context) error,
) error {
	span := trace.SpanFromContext(ctx)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(shutdownCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				shutdownCtx,
				logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	const query = `
		INSERT INTO processed_events (consumer, event_id)
		VALUES ($1, $2)
		ON CONFLICT (consumer, event_id) DO NOTHING
	`

	tag, err := tx.Exec(ctx, query, consumer, eventID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to claim event %s: %w", eventID, err)
	}

	if tag.RowsAffected() == 0 {
		mylogger.Info(
			ctx,
			logger,
			"Event already processed, skipping",
			zap.String("consumer", consumer),
			zap.String("event_id", eventID),
		)

		return ErrAlreadyProcessed
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 2),
		ctx,
	)

	if err := backoff.Retry(func() error { return action(ctx) }, policy); err != nil {
		mylogger.Error(ctx, logger, "Failed to process after retries", zap.Error(err))

		return fmt.Errorf("failed to process event %s: %w", eventID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			logger,
			"Failed to commit transaction",
			zap.Error(err),
		)

		return fmt.Errorf("failed to commit processed event %s: %w", eventID, err)
	}

	return nil
}
