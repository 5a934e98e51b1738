package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/order-saga/internal/bootstrap"
	"github.com/sakashimaa/order-saga/internal/inventory/repository"
	"github.com/sakashimaa/order-saga/internal/inventory/service"
	inventoryKafka "github.com/sakashimaa/order-saga/internal/inventory/transport/kafka"
	orderRepository "github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Start(ctx, "inventory-service")
	if err != nil {
		log.Fatalf("failed to start inventory service: %v", err)
	}
	defer svc.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: svc.Cfg.Redis.Addr,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()

	if err := rdb.Ping(ctx).Err(); err != nil {
		mylogger.Warn(ctx, svc.Logger, "Redis unavailable, availability reads will miss the cache", zap.Error(err))
	}

	products := repository.NewCachedProductRepository(
		repository.NewProductRepository(svc.Pool, svc.Logger),
		rdb,
		svc.Cfg.Inventory.CacheTTL,
		svc.Logger,
	)

	inventory, err := service.NewInventory(svc.Cfg.Inventory.Mode, products, svc.Cfg.Inventory.Breaker, svc.Logger)
	if err != nil {
		log.Fatalf("failed to create inventory: %v", err)
	}

	orders := orderRepository.NewOrderRepository(svc.Pool, svc.Outbox, svc.Logger)
	consumer := inventoryKafka.NewConsumer(
		service.NewInventoryService(orders, inventory, svc.Metrics, svc.Logger),
		svc.Metrics,
		svc.Logger,
	)

	err = svc.Run(ctx, metrics.NewOpsApp(svc.Registry), func(ctx context.Context) error {
		return consumer.Start(ctx, svc.Cfg.Kafka, svc.Producer)
	})
	if err != nil {
		log.Printf("inventory service stopped: %v", err)
	}
}
