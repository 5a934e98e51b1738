package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/internal/inventory/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	IsAvailable(ctx context.Context, id int64) (bool, error)
	// Reserve takes quantity out of stock once per (orderID, productID).
	// Repeating it for a pair that already holds a reservation is a no-op; a
	// released pair is taken again.
	Reserve(ctx context.Context, orderID string, productID, quantity int64) error
	// Release gives a reservation back. It reports false when there was
	// nothing left to release.
	Release(ctx context.Context, orderID string, productID int64) (bool, error)
}

type productRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewProductRepository(pool *pgxpool.Pool, logger *zap.Logger) ProductRepository {
	return &productRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("inventory/product_repo"),
	}
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.Int64("product_id", id))

	query := `
		SELECT id, name, seller_id, price, stock_quantity, is_active, created_at, updated_at, deleted_at
		FROM products
		WHERE id = $1
	`

	var p domain.Product
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.SellerID,
		&p.Price,
		&p.StockQuantity,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}

		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query product",
			zap.Int64("product_id", id),
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to query product %d: %w", id, err)
	}

	return &p, nil
}

func (r *productRepo) IsAvailable(ctx context.Context, id int64) (bool, error) {
	p, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return false, nil
		}
		return false, err
	}

	return p.Available(), nil
}

func (r *productRepo) Reserve(ctx context.Context, orderID string, productID, quantity int64) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.Int64("product_id", productID),
		attribute.Int64("quantity", quantity),
	)

	return r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		insertQuery := `
			INSERT INTO stock_reservations (order_id, product_id, quantity, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (order_id, product_id) DO UPDATE
			SET quantity = EXCLUDED.quantity, created_at = NOW(), released_at = NULL
			WHERE stock_reservations.released_at IS NOT NULL
		`

		tag, err := tx.Exec(ctx, insertQuery, orderID, productID, quantity)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}

		if tag.RowsAffected() == 0 {
			mylogger.Debug(
				ctx,
				r.logger,
				"Reservation already held",
				zap.String("order_id", orderID),
				zap.Int64("product_id", productID),
			)
			return nil
		}

		decreaseQuery := `
			UPDATE products
			SET stock_quantity = stock_quantity - $2, updated_at = NOW()
			WHERE id = $1
				AND stock_quantity >= $2
				AND is_active
				AND deleted_at IS NULL
		`

		tag, err = tx.Exec(ctx, decreaseQuery, productID, quantity)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("error decreasing stock for product %d: %w", productID, err)
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).
				Scan(&exists); err != nil {
				return fmt.Errorf("failed to check product %d: %w", productID, err)
			}
			if !exists {
				return ErrProductNotFound
			}
			return ErrInsufficientStock
		}

		return nil
	})
}

func (r *productRepo) Release(ctx context.Context, orderID string, productID int64) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Release")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.Int64("product_id", productID),
	)

	released := false
	err := r.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		releaseQuery := `
			UPDATE stock_reservations
			SET released_at = NOW()
			WHERE order_id = $1 AND product_id = $2 AND released_at IS NULL
			RETURNING quantity
		`

		var quantity int64
		if err := tx.QueryRow(ctx, releaseQuery, orderID, productID).Scan(&quantity); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to release reservation: %w", err)
		}

		increaseQuery := `
			UPDATE products
			SET stock_quantity = stock_quantity + $1, updated_at = NOW()
			WHERE id = $2
		`

		tag, err := tx.Exec(ctx, increaseQuery, quantity, productID)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to increase stock for product %d: %w", productID, err)
		}

		if tag.RowsAffected() == 0 {
			mylogger.Warn(ctx, r.logger, "Product not found", zap.Int64("product_id", productID))
			return ErrProductNotFound
		}

		released = true
		return nil
	})

	return released, err
}

func (r *productRepo) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				cleanupCtx,
				r.logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
