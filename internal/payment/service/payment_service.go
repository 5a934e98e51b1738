package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	orderRepository "github.com/sakashimaa/order-saga/internal/order/repository"
	paymentDomain "github.com/sakashimaa/order-saga/internal/payment/domain"
	"github.com/sakashimaa/order-saga/internal/payment/gateway"
	"github.com/sakashimaa/order-saga/internal/payment/repository"
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

type PaymentService interface {
	HandleInventoryReserved(ctx context.Context, event *domain.InventoryReservedEvent) error
}

type paymentService struct {
	orders   orderRepository.OrderRepository
	payments repository.PaymentRepository
	gateway  gateway.PaymentGateway
	method   string
	metrics  *metrics.SagaMetrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewPaymentService(
	orders orderRepository.OrderRepository,
	payments repository.PaymentRepository,
	gateway gateway.PaymentGateway,
	method string,
	metrics *metrics.SagaMetrics,
	logger *zap.Logger,
) PaymentService {
	return &paymentService{
		orders:   orders,
		payments: payments,
		gateway:  gateway,
		method:   method,
		metrics:  metrics,
		logger:   logger,
		tracer:   otel.Tracer("service/payment_service"),
	}
}

func (s *paymentService) HandleInventoryReserved(ctx context.Context, event *domain.InventoryReservedEvent) (err error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.HandleInventoryReserved")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", event.OrderID))

	order, err := s.orders.FindByID(ctx, event.OrderID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if order.Status != domain.OrderStatusPending || order.HasStage(domain.StagePayment) {
		s.metrics.Duplicates.WithLabelValues(domain.EventInventoryReserved).Inc()

		mylogger.Info(
			ctx,
			s.logger,
			"Payment stage already settled, skipping",
			zap.String("order_id", order.ID),
			zap.String("status", order.Status.String()),
		)
		return nil
	}

	if !order.HasStage(domain.StageInventory) {
		mylogger.Warn(
			ctx,
			s.logger,
			"Inventory stage not recorded, ignoring out-of-order event",
			zap.String("order_id", order.ID),
		)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = s.fail(ctx, order, saga.Panicked(r))
		}
	}()

	amount := order.Payable()
	span.SetAttributes(attribute.Int64("amount", amount))

	mylogger.Info(
		ctx,
		s.logger,
		"Processing payment",
		zap.String("order_id", order.ID),
		zap.Int64("member_id", order.MemberID),
		zap.Int64("amount", amount),
	)

	charge := paymentDomain.Charge{
		MemberID:       order.MemberID,
		Amount:         amount,
		Method:         s.method,
		IdempotencyKey: paymentDomain.IdempotencyKey(order.ID),
	}

	switch outcome := s.gateway.Capture(ctx, charge).(type) {
	case saga.Success[paymentDomain.Receipt]:
		return s.captured(ctx, order, charge, outcome.Value)
	case saga.Rejected[paymentDomain.Receipt]:
		return s.declined(ctx, order, charge, outcome.Reason)
	case saga.Failed[paymentDomain.Receipt]:
		span.RecordError(outcome.Cause)
		return s.fail(ctx, order, outcome.Cause)
	}

	return nil
}

func (s *paymentService) captured(ctx context.Context, order *domain.Order, charge paymentDomain.Charge, receipt paymentDomain.Receipt) error {
	payment, err := s.payments.Save(ctx, &paymentDomain.Payment{
		ID:             receipt.PaymentID,
		OrderID:        order.ID,
		MemberID:       order.MemberID,
		Amount:         receipt.Amount,
		Method:         charge.Method,
		Status:         paymentDomain.PaymentStatusCaptured,
		IdempotencyKey: charge.IdempotencyKey,
	})
	if err != nil {
		return saga.Transient(err)
	}

	change, err := domain.NewStatusChange(order, domain.StagePayment, domain.OutcomePaymentCaptured, "payment captured")
	if err != nil {
		return s.fail(ctx, order, err)
	}
	change.Reference = payment.ID

	err = s.orders.Transition(ctx, change, func(ctx context.Context, pub bus.Publisher) error {
		return pub.Publish(ctx, domain.PaymentProcessedEvent{
			OrderID:       order.ID,
			MemberID:      order.MemberID,
			Amount:        payment.Amount,
			PaymentID:     payment.ID,
			PaymentMethod: payment.Method,
			OccurredAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return s.lost(ctx, order, err)
	}

	s.metrics.StageOutcomes.WithLabelValues(string(domain.StagePayment), string(domain.OutcomePaymentCaptured)).Inc()

	mylogger.Info(
		ctx,
		s.logger,
		"Payment captured",
		zap.String("order_id", order.ID),
		zap.String("payment_id", payment.ID),
		zap.Int64("amount", payment.Amount),
	)

	return nil
}

// declined fails the order and requests release of every line, all of which
// were reserved for the inventory stage to have succeeded.
func (s *paymentService) declined(ctx context.Context, order *domain.Order, charge paymentDomain.Charge, reason string) error {
	if _, err := s.payments.Save(ctx, &paymentDomain.Payment{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		MemberID:       order.MemberID,
		Amount:         charge.Amount,
		Method:         charge.Method,
		Status:         paymentDomain.PaymentStatusDeclined,
		IdempotencyKey: charge.IdempotencyKey,
		DeclineReason:  reason,
	}); err != nil {
		return saga.Transient(err)
	}

	msg := "payment declined: " + reason

	change, err := domain.NewStatusChange(order, domain.StagePayment, domain.OutcomePaymentDeclined, msg)
	if err != nil {
		return s.fail(ctx, order, err)
	}

	err = s.orders.Transition(ctx, change, func(ctx context.Context, pub bus.Publisher) error {
		return saga.RequestRollback(ctx, pub, order.ID, order.ReservedLines(), msg)
	})
	if err != nil {
		return s.lost(ctx, order, err)
	}

	s.metrics.StageOutcomes.WithLabelValues(string(domain.StagePayment), string(domain.OutcomePaymentDeclined)).Inc()

	mylogger.Warn(
		ctx,
		s.logger,
		"Payment declined",
		zap.String("order_id", order.ID),
		zap.String("reason", reason),
	)

	return nil
}

func (s *paymentService) fail(ctx context.Context, order *domain.Order, cause error) error {
	if saga.IsTransient(cause) {
		return cause
	}

	s.metrics.StageOutcomes.WithLabelValues(string(domain.StagePayment), string(domain.OutcomeProcessingError)).Inc()

	mylogger.Error(
		ctx,
		s.logger,
		"Payment stage failed",
		zap.String("order_id", order.ID),
		zap.Error(cause),
	)

	return saga.FailOrder(ctx, s.orders, order, domain.StagePayment, cause, order.ReservedLines())
}

func (s *paymentService) lost(ctx context.Context, order *domain.Order, err error) error {
	if domain.IsDuplicate(err) {
		s.metrics.Duplicates.WithLabelValues(domain.EventInventoryReserved).Inc()

		mylogger.Info(
			ctx,
			s.logger,
			"Payment transition lost to a concurrent delivery",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return nil
	}

	return saga.Transient(err)
}
