package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/order-saga/pkg/bus"
	sagaDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/outbox/domain"
	"github.com/sakashimaa/order-saga/pkg/outbox/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type txPublisher struct {
	tx            pgx.Tx
	repo          worker.OutboxRepository
	aggregateType string
	now           func() time.Time
}

// NewTxPublisher returns a publisher that writes outbox rows inside tx. Nothing
// reaches the broker until tx commits and the outbox worker relays the rows.
func NewTxPublisher(tx pgx.Tx, repo worker.OutboxRepository, aggregateType string) bus.Publisher {
	return &txPublisher{
		tx:            tx,
		repo:          repo,
		aggregateType: aggregateType,
		now:           time.Now,
	}
}

func (p *txPublisher) Publish(ctx context.Context, event sagaDomain.Event) error {
	msg, err := bus.NewMessage(event, p.now())
	if err != nil {
		return err
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers, err := json.Marshal(carrier)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	row, err := domain.NewOutboxEvent(msg, p.aggregateType, headers)
	if err != nil {
		return err
	}

	return p.repo.Append(ctx, p.tx, row)
}
