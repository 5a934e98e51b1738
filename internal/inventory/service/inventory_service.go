package service

import (
	"context"
	"strings"

	orderRepository "github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/saga"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const reasonInsufficientStock = "insufficient stock"

type InventoryService interface {
	HandleOrderCreated(ctx context.Context, event *domain.OrderCreatedEvent) error
	HandleRollbackRequested(ctx context.Context, event *domain.InventoryRollbackRequestedEvent) error
}

type inventoryService struct {
	orders      orderRepository.OrderRepository
	inventory   Inventory
	compensator *saga.Compensator
	metrics     *metrics.SagaMetrics
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewInventoryService(
	orders orderRepository.OrderRepository,
	inventory Inventory,
	metrics *metrics.SagaMetrics,
	logger *zap.Logger,
) InventoryService {
	return &inventoryService{
		orders:      orders,
		inventory:   inventory,
		compensator: saga.NewCompensator(inventory, logger),
		metrics:     metrics,
		logger:      logger,
		tracer:      otel.Tracer("inventory_service"),
	}
}

func (s *inventoryService) HandleOrderCreated(ctx context.Context, event *domain.OrderCreatedEvent) (err error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.HandleOrderCreated")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", event.OrderID))

	order, err := s.orders.FindByID(ctx, event.OrderID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if order.Status != domain.OrderStatusPending || order.HasStage(domain.StageInventory) {
		s.duplicate(ctx, order, domain.EventOrderCreated)
		return nil
	}

	var (
		lines    []domain.InventoryLineOutcome
		rejected []string
	)

	defer func() {
		if r := recover(); r != nil {
			err = s.abort(ctx, order, lines, saga.Panicked(r))
		}
	}()

	for _, item := range order.Items {
		switch outcome := s.inventory.Reserve(ctx, order.ID, item).(type) {
		case saga.Success[domain.InventoryLineOutcome]:
			lines = append(lines, outcome.Value)
		case saga.Rejected[domain.InventoryLineOutcome]:
			rejected = append(rejected, outcome.Reason)
			lines = append(lines, domain.InventoryLineOutcome{
				ProductID:    item.ProductID,
				RequestedQty: item.Quantity,
			})
		case saga.Failed[domain.InventoryLineOutcome]:
			span.RecordError(outcome.Cause)
			return s.abort(ctx, order, lines, outcome.Cause)
		}
	}

	if len(rejected) > 0 {
		return s.cancel(ctx, order, lines, rejected)
	}

	change, err := domain.NewStatusChange(order, domain.StageInventory, domain.OutcomeStockReserved, "stock reserved")
	if err != nil {
		return s.abort(ctx, order, lines, err)
	}

	err = s.orders.Transition(ctx, change, func(ctx context.Context, pub bus.Publisher) error {
		return pub.Publish(ctx, domain.InventoryReservedEvent{
			OrderID:    order.ID,
			Lines:      lines,
			OccurredAt: now(),
		})
	})
	if err != nil {
		return s.lost(ctx, order, lines, err)
	}

	s.metrics.StageOutcomes.WithLabelValues(string(domain.StageInventory), string(domain.OutcomeStockReserved)).Inc()

	mylogger.Info(
		ctx,
		s.logger,
		"Inventory reserved",
		zap.String("order_id", order.ID),
		zap.Int("lines", len(lines)),
	)

	return nil
}

// cancel moves the order to CANCELLED and, in the same unit of work, asks for
// the lines reserved so far to be released.
func (s *inventoryService) cancel(ctx context.Context, order *domain.Order, lines []domain.InventoryLineOutcome, rejected []string) error {
	change, err := domain.NewStatusChange(order, domain.StageInventory, domain.OutcomeStockUnavailable, reasonInsufficientStock)
	if err != nil {
		return s.abort(ctx, order, lines, err)
	}

	err = s.orders.Transition(ctx, change, func(ctx context.Context, pub bus.Publisher) error {
		return saga.RequestRollback(ctx, pub, order.ID, lines, reasonInsufficientStock)
	})
	if err != nil {
		return s.lost(ctx, order, lines, err)
	}

	s.metrics.StageOutcomes.WithLabelValues(string(domain.StageInventory), string(domain.OutcomeStockUnavailable)).Inc()

	mylogger.Warn(
		ctx,
		s.logger,
		"Order cancelled, insufficient stock",
		zap.String("order_id", order.ID),
		zap.String("rejected", strings.Join(rejected, "; ")),
		zap.Int("rollback_lines", len(saga.Reserved(lines))),
	)

	return nil
}

// abort handles a failed reservation attempt. Transient failures keep what
// this attempt reserved: the rows are keyed by (order, product), so the retry
// reuses them, and a concurrent delivery may already have published them as
// InventoryReserved. Anything else fails the order and requests the rollback
// with it.
func (s *inventoryService) abort(ctx context.Context, order *domain.Order, lines []domain.InventoryLineOutcome, cause error) error {
	if saga.IsTransient(cause) {
		mylogger.Warn(
			ctx,
			s.logger,
			"Inventory attempt failed, keeping reservations for the retry",
			zap.String("order_id", order.ID),
			zap.Int("held_lines", len(saga.Reserved(lines))),
			zap.Error(cause),
		)
		return cause
	}

	s.metrics.StageOutcomes.WithLabelValues(string(domain.StageInventory), string(domain.OutcomeProcessingError)).Inc()

	mylogger.Error(
		ctx,
		s.logger,
		"Inventory stage failed",
		zap.String("order_id", order.ID),
		zap.Error(cause),
	)

	return saga.FailOrder(ctx, s.orders, order, domain.StageInventory, cause, lines)
}

// lost handles a Transition that did not apply. Losing to a concurrent
// delivery is fine: the reservations are keyed by (order, product), so the
// winner already owns them. Anything else is a storage failure.
func (s *inventoryService) lost(ctx context.Context, order *domain.Order, lines []domain.InventoryLineOutcome, err error) error {
	if domain.IsDuplicate(err) {
		s.duplicate(ctx, order, domain.EventOrderCreated)
		return nil
	}

	return s.abort(ctx, order, lines, saga.Transient(err))
}

func (s *inventoryService) HandleRollbackRequested(ctx context.Context, event *domain.InventoryRollbackRequestedEvent) error {
	ctx, span := s.tracer.Start(ctx, "InventoryService.HandleRollbackRequested")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", event.OrderID),
		attribute.Int("lines", len(event.Lines)),
	)

	if err := s.compensator.Rollback(ctx, event.OrderID, event.Lines); err != nil {
		span.RecordError(err)
		return err
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Inventory rolled back",
		zap.String("order_id", event.OrderID),
		zap.String("reason", event.Reason),
	)

	return nil
}

func (s *inventoryService) duplicate(ctx context.Context, order *domain.Order, event string) {
	s.metrics.Duplicates.WithLabelValues(event).Inc()

	mylogger.Info(
		ctx,
		s.logger,
		"Inventory stage already settled, skipping",
		zap.String("order_id", order.ID),
		zap.String("status", order.Status.String()),
	)
}
