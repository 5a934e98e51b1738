package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Releaser undoes one line's reservation. Implementations must tolerate being
// called any number of times for the same (order, product).
type Releaser interface {
	Release(ctx context.Context, orderID string, line domain.InventoryLineOutcome) error
}

type Compensator struct {
	releaser Releaser
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewCompensator(releaser Releaser, logger *zap.Logger) *Compensator {
	return &Compensator{
		releaser: releaser,
		logger:   logger,
		tracer:   otel.Tracer("saga/compensator"),
	}
}

// Rollback releases every reserved line. A failing line does not stop the
// others; the joined error makes the transport redeliver, and already
// released lines are no-ops the second time.
func (c *Compensator) Rollback(ctx context.Context, orderID string, lines []domain.InventoryLineOutcome) error {
	ctx, span := c.tracer.Start(ctx, "Compensator.Rollback")
	defer span.End()

	reserved := Reserved(lines)

	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.Int("lines", len(reserved)),
	)

	var errs []error
	for _, line := range reserved {
		if err := c.releaser.Release(ctx, orderID, line); err != nil {
			span.RecordError(err)

			mylogger.Error(
				ctx,
				c.logger,
				"Failed to release reservation",
				zap.String("order_id", orderID),
				zap.Int64("product_id", line.ProductID),
				zap.Error(err),
			)

			errs = append(errs, fmt.Errorf("release product %d: %w", line.ProductID, err))
			continue
		}

		mylogger.Info(
			ctx,
			c.logger,
			"Reservation rolled back",
			zap.String("order_id", orderID),
			zap.Int64("product_id", line.ProductID),
			zap.Int64("quantity", line.ReservedQty),
		)
	}

	return errors.Join(errs...)
}

func Reserved(lines []domain.InventoryLineOutcome) []domain.InventoryLineOutcome {
	var out []domain.InventoryLineOutcome
	for _, line := range lines {
		if line.Available && line.ReservedQty > 0 {
			out = append(out, line)
		}
	}
	return out
}
