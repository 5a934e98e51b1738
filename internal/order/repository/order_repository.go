package repository

import (
	"context"

	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/domain"
)

// OrderRepository persists the order aggregate. Transition is the only way a
// status changes: a compare-and-set on (id, change.From) plus the
// (order_id, stage) record, committed together with everything fn publishes.
// When the status actually changes an OrderStatusChanged event is published
// in the same unit of work.
type OrderRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	Create(ctx context.Context, order *domain.Order, fn bus.UnitOfWork) error
	Transition(ctx context.Context, change domain.StatusChange, fn bus.UnitOfWork) error
}
