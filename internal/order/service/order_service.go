package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type PlaceOrderInput struct {
	MemberID        int64
	Email           string
	ShippingAddress string
	Items           []domain.OrderLineItem
}

type OrderService interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	MarkDelivered(ctx context.Context, id string) (*domain.Order, error)
}

type orderService struct {
	orders  repository.OrderRepository
	metrics *metrics.SagaMetrics
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

func NewOrderService(orders repository.OrderRepository, metrics *metrics.SagaMetrics, logger *zap.Logger) OrderService {
	return &orderService{
		orders:  orders,
		metrics: metrics,
		logger:  logger,
		tracer:  otel.Tracer("order_service"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// PlaceOrder persists a PENDING order and publishes OrderCreated in the same
// unit of work, which starts the saga.
func (s *orderService) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("member_id", input.MemberID),
		attribute.Int("items", len(input.Items)),
	)

	order, err := domain.NewOrder(s.newID(), input.MemberID, input.Email, input.ShippingAddress, input.Items)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("order_id", order.ID))

	err = s.orders.Create(ctx, order, func(ctx context.Context, pub bus.Publisher) error {
		return pub.Publish(ctx, domain.OrderCreatedEvent{
			OrderID:         order.ID,
			MemberID:        order.MemberID,
			Email:           order.MemberEmail,
			ShippingAddress: order.ShippingAddress,
			Items:           order.Items,
			TotalAmount:     order.TotalAmount,
			OccurredAt:      s.now(),
		})
	})
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			s.logger,
			"Failed to create order",
			zap.Int64("member_id", input.MemberID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order placed",
		zap.String("order_id", order.ID),
		zap.Int64("total_amount", order.TotalAmount),
	)

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", id))

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}

	return order, nil
}

// MarkDelivered closes a READY order. It is the only transition driven from
// outside the saga.
func (s *orderService) MarkDelivered(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.MarkDelivered")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", id))

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	change, err := domain.NewStatusChange(order, domain.StageDelivery, domain.OutcomeDelivered, "delivered")
	if err != nil {
		return nil, err
	}

	if err := s.orders.Transition(ctx, change, nil); err != nil {
		span.RecordError(err)

		mylogger.Warn(
			ctx,
			s.logger,
			"Failed to mark order delivered",
			zap.String("order_id", id),
			zap.Error(err),
		)

		return nil, err
	}

	s.metrics.StageOutcomes.WithLabelValues(string(domain.StageDelivery), string(domain.OutcomeDelivered)).Inc()

	return s.orders.FindByID(ctx, id)
}
