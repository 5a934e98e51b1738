package service

import (
	"context"
	"time"

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

type ShippingService interface {
	HandlePaymentProcessed(ctx context.Context, event *domain.PaymentProcessedEvent) error
}

type shippingService struct {
	orders   orderRepository.OrderRepository
	tracking TrackingGenerator
	leadTime time.Duration
	metrics  *metrics.SagaMetrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewShippingService(
	orders orderRepository.OrderRepository,
	tracking TrackingGenerator,
	leadTime time.Duration,
	metrics *metrics.SagaMetrics,
	logger *zap.Logger,
) ShippingService {
	return &shippingService{
		orders:   orders,
		tracking: tracking,
		leadTime: leadTime,
		metrics:  metrics,
		logger:   logger,
		tracer:   otel.Tracer("service/shipping_service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *shippingService) HandlePaymentProcessed(ctx context.Context, event *domain.PaymentProcessedEvent) (err error) {
	ctx, span := s.tracer.Start(ctx, "ShippingService.HandlePaymentProcessed")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", event.OrderID))

	order, err := s.orders.FindByID(ctx, event.OrderID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if order.Status != domain.OrderStatusPaid || order.HasStage(domain.StageShipping) {
		s.metrics.Duplicates.WithLabelValues(domain.EventPaymentProcessed).Inc()

		mylogger.Info(
			ctx,
			s.logger,
			"Shipping stage not applicable, skipping",
			zap.String("order_id", order.ID),
			zap.String("status", order.Status.String()),
		)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = saga.FailOrder(ctx, s.orders, order, domain.StageShipping, saga.Panicked(r), nil)
		}
	}()

	trackingNumber := s.tracking.Generate(order.ID)
	now := s.now()

	change, err := domain.NewStatusChange(order, domain.StageShipping, domain.OutcomeShipmentStarted, "shipment started")
	if err != nil {
		return saga.FailOrder(ctx, s.orders, order, domain.StageShipping, err, nil)
	}
	change.Reference = trackingNumber

	err = s.orders.Transition(ctx, change, func(ctx context.Context, pub bus.Publisher) error {
		return pub.Publish(ctx, domain.ShippingStartedEvent{
			OrderID:           order.ID,
			ShippingAddress:   order.ShippingAddress,
			TrackingNumber:    trackingNumber,
			ProductIDs:        order.ProductIDs(),
			EstimatedDelivery: now.Add(s.leadTime),
			OccurredAt:        now,
		})
	})
	if err != nil {
		if domain.IsDuplicate(err) {
			s.metrics.Duplicates.WithLabelValues(domain.EventPaymentProcessed).Inc()
			return nil
		}

		span.RecordError(err)
		return saga.Transient(err)
	}

	s.metrics.StageOutcomes.WithLabelValues(string(domain.StageShipping), string(domain.OutcomeShipmentStarted)).Inc()

	mylogger.Info(
		ctx,
		s.logger,
		"Shipment started",
		zap.String("order_id", order.ID),
		zap.String("tracking_number", trackingNumber),
	)

	return nil
}
