package service

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sakashimaa/order-saga/internal/notification/email"
	orderRepository "github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	outboxUtils "github.com/sakashimaa/order-saga/pkg/outbox/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// NotificationService is the saga's fire-and-forget sink. Nothing it does
// can fail a delivery: errors are logged and swallowed.
type NotificationService struct {
	sender  email.Sender
	orders  orderRepository.OrderRepository
	dedup   Deduplicator
	seen    *lru.Cache[string, struct{}]
	metrics *metrics.SagaMetrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewNotificationService(
	sender email.Sender,
	orders orderRepository.OrderRepository,
	dedup Deduplicator,
	window int,
	metrics *metrics.SagaMetrics,
	logger *zap.Logger,
) (*NotificationService, error) {
	seen, err := lru.New[string, struct{}](window)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup window: %w", err)
	}

	return &NotificationService{
		sender:  sender,
		orders:  orders,
		dedup:   dedup,
		seen:    seen,
		metrics: metrics,
		logger:  logger,
		tracer:  otel.Tracer("notification-service"),
	}, nil
}

func (s *NotificationService) HandleShippingStarted(ctx context.Context, eventID string, event *domain.ShippingStartedEvent) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleShippingStarted")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("order_id", event.OrderID),
	)

	s.notify(ctx, domain.EventShippingStarted, eventID, event.OrderID, func(ctx context.Context, to string) error {
		return s.sender.SendShippingStarted(ctx, to, event)
	})
}

func (s *NotificationService) HandleStatusChanged(ctx context.Context, eventID string, event *domain.OrderStatusChangedEvent) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleStatusChanged")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("order_id", event.OrderID),
		attribute.String("status", string(event.NewStatus)),
	)

	s.notify(ctx, domain.EventOrderStatusChanged, eventID, event.OrderID, func(ctx context.Context, to string) error {
		return s.sender.SendStatusChanged(ctx, to, event)
	})
}

func (s *NotificationService) notify(ctx context.Context, eventName, eventID, orderID string, send func(ctx context.Context, to string) error) {
	if s.seen.Contains(eventID) {
		s.metrics.Duplicates.WithLabelValues(eventName).Inc()
		mylogger.Debug(ctx, s.logger, "Notification already sent, skipping", zap.String("event_id", eventID))
		return
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Cannot resolve recipient",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return
	}

	if order.MemberEmail == "" {
		mylogger.Debug(ctx, s.logger, "Member has no email, skipping", zap.String("order_id", orderID))
		s.seen.Add(eventID, struct{}{})
		return
	}

	err = s.dedup.Once(ctx, eventID, func(ctx context.Context) error {
		return send(ctx, order.MemberEmail)
	})
	switch {
	case err == nil:
		s.seen.Add(eventID, struct{}{})
	case errors.Is(err, outboxUtils.ErrAlreadyProcessed):
		s.metrics.Duplicates.WithLabelValues(eventName).Inc()
		s.seen.Add(eventID, struct{}{})
	default:
		trace.SpanFromContext(ctx).RecordError(err)
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to send notification",
			zap.String("event_id", eventID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}
