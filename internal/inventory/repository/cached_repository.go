package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/order-saga/internal/inventory/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

type cachedProductRepository struct {
	next        ProductRepository
	redisClient *redis.Client
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewCachedProductRepository fronts availability reads with redis. Stock
// changes drop the cached flag. A redis outage degrades to reading through.
func NewCachedProductRepository(next ProductRepository, redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) ProductRepository {
	return &cachedProductRepository{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    ttl,
		logger:      logger,
	}
}

func availabilityKey(id int64) string {
	return fmt.Sprintf("product:available:%d", id)
}

func (r *cachedProductRepository) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	return r.next.GetByID(ctx, id)
}

func (r *cachedProductRepository) IsAvailable(ctx context.Context, id int64) (bool, error) {
	key := availabilityKey(id)

	val, err := r.redisClient.Get(ctx, key).Result()
	switch {
	case err == nil:
		return val == "1", nil
	case !errors.Is(err, redis.Nil):
		mylogger.Warn(ctx, r.logger, "Availability cache read failed", zap.Int64("product_id", id), zap.Error(err))
	}

	available, err := r.next.IsAvailable(ctx, id)
	if err != nil {
		return false, err
	}

	flag := "0"
	if available {
		flag = "1"
	}
	if err := r.redisClient.Set(ctx, key, flag, r.cacheTTL).Err(); err != nil {
		mylogger.Warn(ctx, r.logger, "Availability cache write failed", zap.Int64("product_id", id), zap.Error(err))
	}

	return available, nil
}

func (r *cachedProductRepository) Reserve(ctx context.Context, orderID string, productID, quantity int64) error {
	err := r.next.Reserve(ctx, orderID, productID, quantity)
	r.invalidate(ctx, productID)
	return err
}

func (r *cachedProductRepository) Release(ctx context.Context, orderID string, productID int64) (bool, error) {
	released, err := r.next.Release(ctx, orderID, productID)
	if released {
		r.invalidate(ctx, productID)
	}
	return released, err
}

func (r *cachedProductRepository) invalidate(ctx context.Context, productID int64) {
	if err := r.redisClient.Del(ctx, availabilityKey(productID)).Err(); err != nil {
		mylogger.Warn(ctx, r.logger, "Availability cache invalidation failed", zap.Int64("product_id", productID), zap.Error(err))
	}
}
