package service

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	outboxUtils "github.com/sakashimaa/order-saga/pkg/outbox/utils"
	"go.uber.org/zap"
)

const consumerName = "notification"

// Deduplicator runs action at most once per event id, durably.
type Deduplicator interface {
	Once(ctx context.Context, eventID string, action func(ctx context.Context) error) error
}

type postgresDeduplicator struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresDeduplicator(pool *pgxpool.Pool, logger *zap.Logger) Deduplicator {
	return &postgresDeduplicator{pool: pool, logger: logger}
}

func (d *postgresDeduplicator) Once(ctx context.Context, eventID string, action func(ctx context.Context) error) error {
	return outboxUtils.ProcessWithDeduplication(ctx, d.pool, d.logger, consumerName, eventID, action)
}

type passthrough struct{}

// NoDeduplication relies on the in-process window alone.
func NoDeduplication() Deduplicator {
	return passthrough{}
}

func (passthrough) Once(ctx context.Context, _ string, action func(ctx context.Context) error) error {
	return action(ctx)
}
