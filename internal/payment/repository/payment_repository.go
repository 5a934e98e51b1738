package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/internal/payment/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type PaymentRepository interface {
	// Save stores payment unless the order already has one, in which case the
	// stored payment is returned instead.
	Save(ctx context.Context, payment *domain.Payment) (*domain.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
}

type paymentRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewPaymentRepository(pool *pgxpool.Pool, logger *zap.Logger) PaymentRepository {
	return &paymentRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/payment_repo"),
	}
}

func (r *paymentRepo) Save(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", payment.OrderID),
		attribute.Int64("member_id", payment.MemberID),
		attribute.Int64("amount", payment.Amount),
		attribute.String("status", string(payment.Status)),
	)

	query := `
		INSERT INTO payments (id, order_id, member_id, amount, method, status, idempotency_key, decline_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (order_id) DO NOTHING
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.MemberID,
		payment.Amount,
		payment.Method,
		string(payment.Status),
		payment.IdempotencyKey,
		payment.DeclineReason,
	).Scan(&payment.CreatedAt)
	if err == nil {
		return payment, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		mylogger.Warn(ctx, r.logger, "Create payment failed", zap.Error(err))

		return nil, fmt.Errorf("failed to save payment: %w", err)
	}

	mylogger.Warn(
		ctx,
		r.logger,
		"Payment already exists for this order",
		zap.String("order_id", payment.OrderID),
	)

	return r.GetByOrderID(ctx, payment.OrderID)
}

func (r *paymentRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.GetByOrderID")
	defer span.End()

	query := `
		SELECT id, order_id, member_id, amount, method, status, idempotency_key, decline_reason, created_at
		FROM payments
		WHERE order_id = $1
	`

	var p domain.Payment
	if err := r.pool.QueryRow(ctx, query, orderID).Scan(
		&p.ID,
		&p.OrderID,
		&p.MemberID,
		&p.Amount,
		&p.Method,
		&p.Status,
		&p.IdempotencyKey,
		&p.DeclineReason,
		&p.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "GetByOrderID failed", zap.Error(err))

		return nil, fmt.Errorf("error getting payment by order id: %w", err)
	}

	return &p, nil
}
