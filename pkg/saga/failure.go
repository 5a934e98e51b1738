package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/domain"
)

type Transitioner interface {
	Transition(ctx context.Context, change domain.StatusChange, fn bus.UnitOfWork) error
}

// FailOrder forces the order to FAILED after an unexpected error and, when
// lines were reserved, requests their rollback in the same unit of work. Once
// the order is failed it returns cause marked Unexpected for dead-lettering.
// If the failure could not be persisted, cause comes back joined with that
// error and unmarked, so the delivery is retried.
func FailOrder(
	ctx context.Context,
	store Transitioner,
	order *domain.Order,
	stage domain.Stage,
	cause error,
	reserved []domain.InventoryLineOutcome,
) error {
	reason := fmt.Sprintf("processing error in %s: %v", stage, cause)

	change, err := domain.NewStatusChange(order, stage, domain.OutcomeProcessingError, reason)
	if err != nil {
		if errors.Is(err, domain.ErrTerminalStatus) {
			return Unexpected(cause)
		}
		return errors.Join(cause, err)
	}

	err = store.Transition(ctx, change, func(ctx context.Context, pub bus.Publisher) error {
		return RequestRollback(ctx, pub, order.ID, reserved, reason)
	})
	if err != nil && !domain.IsDuplicate(err) {
		return errors.Join(cause, fmt.Errorf("failed to mark order %s failed: %w", order.ID, err))
	}

	return Unexpected(cause)
}

// RequestRollback publishes the compensating request for the reserved lines.
// Nothing is published when no line was reserved.
func RequestRollback(ctx context.Context, pub bus.Publisher, orderID string, lines []domain.InventoryLineOutcome, reason string) error {
	reserved := Reserved(lines)
	if len(reserved) == 0 {
		return nil
	}

	return pub.Publish(ctx, domain.InventoryRollbackRequestedEvent{
		OrderID:    orderID,
		Lines:      reserved,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
}
