package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakashimaa/order-saga/internal/inventory/repository"
	"github.com/sakashimaa/order-saga/pkg/breaker"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/saga"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	ModeAvailability = "availability"
	ModeStock        = "stock"
)

// Inventory reserves and releases one order line. Reserve answers Success
// with the line outcome, Rejected when the line cannot be had, or Failed.
// Release must be safe to call any number of times.
type Inventory interface {
	Reserve(ctx context.Context, orderID string, item domain.OrderLineItem) saga.Outcome[domain.InventoryLineOutcome]
	Release(ctx context.Context, orderID string, line domain.InventoryLineOutcome) error
}

func NewInventory(mode string, products repository.ProductRepository, cfg config.Breaker, logger *zap.Logger) (Inventory, error) {
	switch mode {
	case ModeAvailability, "":
		return NewAvailabilityInventory(products, breaker.New("inventory-availability", cfg, logger), logger), nil
	case ModeStock:
		return NewStockInventory(products, breaker.New("inventory-stock", cfg, logger,
			repository.ErrInsufficientStock, repository.ErrProductNotFound), logger), nil
	default:
		return nil, fmt.Errorf("unknown inventory mode %q", mode)
	}
}

// AvailabilityInventory treats a product as a boolean: sellable or not.
// Nothing is held, so Release only re-reads the flag for the log.
type AvailabilityInventory struct {
	products repository.ProductRepository
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewAvailabilityInventory(products repository.ProductRepository, cb *gobreaker.CircuitBreaker, logger *zap.Logger) *AvailabilityInventory {
	return &AvailabilityInventory{products: products, cb: cb, logger: logger}
}

func (i *AvailabilityInventory) Reserve(ctx context.Context, _ string, item domain.OrderLineItem) saga.Outcome[domain.InventoryLineOutcome] {
	available, err := breaker.Execute(i.cb, func() (bool, error) {
		return i.products.IsAvailable(ctx, item.ProductID)
	})
	if err != nil {
		return saga.Fail[domain.InventoryLineOutcome](classify(err))
	}

	if !available {
		return saga.Reject[domain.InventoryLineOutcome](fmt.Sprintf("product %d unavailable", item.ProductID))
	}

	return saga.Succeed(domain.InventoryLineOutcome{
		ProductID:    item.ProductID,
		RequestedQty: item.Quantity,
		ReservedQty:  item.Quantity,
		Available:    true,
	})
}

func (i *AvailabilityInventory) Release(ctx context.Context, orderID string, line domain.InventoryLineOutcome) error {
	available, err := i.products.IsAvailable(ctx, line.ProductID)
	if err != nil {
		return classify(err)
	}

	mylogger.Info(
		ctx,
		i.logger,
		"Released availability hold",
		zap.String("order_id", orderID),
		zap.Int64("product_id", line.ProductID),
		zap.Bool("available", available),
	)

	return nil
}

// StockInventory holds real quantity per (order, product) reservation.
type StockInventory struct {
	products repository.ProductRepository
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewStockInventory(products repository.ProductRepository, cb *gobreaker.CircuitBreaker, logger *zap.Logger) *StockInventory {
	return &StockInventory{products: products, cb: cb, logger: logger}
}

func (i *StockInventory) Reserve(ctx context.Context, orderID string, item domain.OrderLineItem) saga.Outcome[domain.InventoryLineOutcome] {
	_, err := breaker.Execute(i.cb, func() (struct{}, error) {
		return struct{}{}, i.products.Reserve(ctx, orderID, item.ProductID, item.Quantity)
	})
	switch {
	case err == nil:
		return saga.Succeed(domain.InventoryLineOutcome{
			ProductID:    item.ProductID,
			RequestedQty: item.Quantity,
			ReservedQty:  item.Quantity,
			Available:    true,
		})
	case errors.Is(err, repository.ErrInsufficientStock):
		return saga.Reject[domain.InventoryLineOutcome](fmt.Sprintf("insufficient stock for product %d", item.ProductID))
	case errors.Is(err, repository.ErrProductNotFound):
		return saga.Reject[domain.InventoryLineOutcome](fmt.Sprintf("product %d not found", item.ProductID))
	default:
		return saga.Fail[domain.InventoryLineOutcome](classify(err))
	}
}

func (i *StockInventory) Release(ctx context.Context, orderID string, line domain.InventoryLineOutcome) error {
	released, err := i.products.Release(ctx, orderID, line.ProductID)
	if err != nil {
		return classify(err)
	}

	mylogger.Info(
		ctx,
		i.logger,
		"Released stock reservation",
		zap.String("order_id", orderID),
		zap.Int64("product_id", line.ProductID),
		zap.Bool("released", released),
	)

	return nil
}

// classify marks storage failures transient. Missing products are a business
// answer and stay as they are.
func classify(err error) error {
	if saga.IsTransient(err) || errors.Is(err, repository.ErrProductNotFound) {
		return err
	}
	return saga.Transient(err)
}
