package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	outboxRepository "github.com/sakashimaa/order-saga/pkg/outbox/repository"
	"github.com/sakashimaa/order-saga/pkg/outbox/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const aggregateType = "Order"

type orderRepo struct {
	pool       *pgxpool.Pool
	outboxRepo worker.OutboxRepository
	logger     *zap.Logger
	tracer     trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, outboxRepo worker.OutboxRepository, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:       pool,
		outboxRepo: outboxRepo,
		logger:     logger,
		tracer:     otel.Tracer("order_repository"),
	}
}

func (r *orderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.FindByID")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", id))

	query := `
		SELECT id, member_id, member_email, shipping_address, status, total_amount, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var order domain.Order
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&order.ID,
		&order.MemberID,
		&order.MemberEmail,
		&order.ShippingAddress,
		&order.Status,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to query order %s: %w", id, err)
	}

	if order.Items, err = r.findItems(ctx, id); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if order.Stages, err = r.findStages(ctx, id); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &order, nil
}

func (r *orderRepo) findItems(ctx context.Context, orderID string) ([]domain.OrderLineItem, error) {
	query := `
		SELECT product_id, seller_id, quantity, unit_price, discount_value, total_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order_items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderLineItem
	for rows.Next() {
		var item domain.OrderLineItem
		if err := rows.Scan(
			&item.ProductID,
			&item.SellerID,
			&item.Quantity,
			&item.UnitPrice,
			&item.DiscountValue,
			&item.TotalPrice,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *orderRepo) findStages(ctx context.Context, orderID string) (map[domain.Stage]domain.StageRecord, error) {
	query := `
		SELECT stage, outcome, reference, recorded_at
		FROM order_stages
		WHERE order_id = $1
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order_stages: %w", err)
	}
	defer rows.Close()

	stages := map[domain.Stage]domain.StageRecord{}
	for rows.Next() {
		var rec domain.StageRecord
		if err := rows.Scan(&rec.Stage, &rec.Outcome, &rec.Reference, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order stage: %w", err)
		}

		stages[rec.Stage] = rec
	}

	return stages, rows.Err()
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order, fn bus.UnitOfWork) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.Int("items_count", len(order.Items)),
	)

	return r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		queryOrder := `
			INSERT INTO orders (id, member_id, member_email, shipping_address, status, total_amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			RETURNING created_at, updated_at
		`

		if err := tx.QueryRow(
			ctx,
			queryOrder,
			order.ID,
			order.MemberID,
			order.MemberEmail,
			order.ShippingAddress,
			string(order.Status),
			order.TotalAmount,
		).Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return ErrOrderExists
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}

		queryItem := `
			INSERT INTO order_items (order_id, line_no, product_id, seller_id, quantity, unit_price, discount_value, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`

		for i, item := range order.Items {
			if _, err := tx.Exec(
				ctx,
				queryItem,
				order.ID,
				i,
				item.ProductID,
				item.SellerID,
				item.Quantity,
				item.UnitPrice,
				item.DiscountValue,
				item.TotalPrice,
			); err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}

		if fn == nil {
			return nil
		}
		return fn(ctx, outboxRepository.NewTxPublisher(tx, r.outboxRepo, aggregateType))
	})
}

func (r *orderRepo) Transition(ctx context.Context, change domain.StatusChange, fn bus.UnitOfWork) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Transition")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", change.OrderID),
		attribute.String("stage", string(change.Stage)),
		attribute.String("outcome", string(change.Outcome)),
		attribute.String("from", string(change.From)),
		attribute.String("to", string(change.To)),
	)

	err := r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		queryCAS := `
			UPDATE orders
			SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status = $3
		`

		tag, err := tx.Exec(ctx, queryCAS, string(change.To), change.OrderID, string(change.From))
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, change.OrderID).
				Scan(&exists); err != nil {
				return fmt.Errorf("failed to check order: %w", err)
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrStaleStatus
		}

		queryStage := `
			INSERT INTO order_stages (order_id, stage, outcome, reference, recorded_at)
			VALUES ($1, $2, $3, $4, NOW())
		`

		if _, err := tx.Exec(
			ctx,
			queryStage,
			change.OrderID,
			string(change.Stage),
			string(change.Outcome),
			change.Reference,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrStageRecorded
			}
			return fmt.Errorf("failed to record stage: %w", err)
		}

		pub := outboxRepository.NewTxPublisher(tx, r.outboxRepo, aggregateType)

		if change.ChangesStatus() {
			if err := pub.Publish(ctx, domain.StatusChangedFrom(change, time.Now().UTC())); err != nil {
				return err
			}
		}

		if fn == nil {
			return nil
		}
		return fn(ctx, pub)
	})
	if err != nil {
		if domain.IsDuplicate(err) {
			mylogger.Debug(
				ctx,
				r.logger,
				"Transition lost",
				zap.String("order_id", change.OrderID),
				zap.String("stage", string(change.Stage)),
				zap.Error(err),
			)
		} else {
			span.RecordError(err)
		}
		return err
	}

	return nil
}

func (r *orderRepo) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(shutdownCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				shutdownCtx,
				r.logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgError *pgconn.PgError
	return errors.As(err, &pgError) && pgError.Code == "23505"
}
