package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/order-saga/internal/bootstrap"
	orderRepository "github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/internal/shipping/service"
	shippingKafka "github.com/sakashimaa/order-saga/internal/shipping/transport/kafka"
	"github.com/sakashimaa/order-saga/pkg/metrics"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Start(ctx, "shipping-service")
	if err != nil {
		log.Fatalf("failed to start shipping service: %v", err)
	}
	defer svc.Close()

	shippingService := service.NewShippingService(
		orderRepository.NewOrderRepository(svc.Pool, svc.Outbox, svc.Logger),
		service.NewTrackingGenerator(svc.Cfg.Shipping.TrackingPrefix),
		svc.Cfg.Shipping.LeadTime,
		svc.Metrics,
		svc.Logger,
	)
	consumer := shippingKafka.NewConsumer(shippingService, svc.Metrics, svc.Logger)

	err = svc.Run(ctx, metrics.NewOpsApp(svc.Registry), func(ctx context.Context) error {
		return consumer.Start(ctx, svc.Cfg.Kafka, svc.Producer)
	})
	if err != nil {
		log.Printf("shipping service stopped: %v", err)
	}
}
