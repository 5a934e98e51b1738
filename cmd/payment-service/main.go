package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/order-saga/internal/bootstrap"
	orderRepository "github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/internal/payment/gateway"
	"github.com/sakashimaa/order-saga/internal/payment/repository"
	"github.com/sakashimaa/order-saga/internal/payment/service"
	paymentKafka "github.com/sakashimaa/order-saga/internal/payment/transport/kafka"
	"github.com/sakashimaa/order-saga/pkg/metrics"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Start(ctx, "payment-service")
	if err != nil {
		log.Fatalf("failed to start payment service: %v", err)
	}
	defer svc.Close()

	capture := gateway.WithBreaker(
		gateway.NewSimulatedGateway(svc.Cfg.Payment),
		svc.Cfg.Payment.Breaker,
		svc.Logger,
	)

	paymentService := service.NewPaymentService(
		orderRepository.NewOrderRepository(svc.Pool, svc.Outbox, svc.Logger),
		repository.NewPaymentRepository(svc.Pool, svc.Logger),
		capture,
		svc.Cfg.Payment.Method,
		svc.Metrics,
		svc.Logger,
	)
	consumer := paymentKafka.NewConsumer(paymentService, svc.Metrics, svc.Logger)

	err = svc.Run(ctx, metrics.NewOpsApp(svc.Registry), func(ctx context.Context) error {
		return consumer.Start(ctx, svc.Cfg.Kafka, svc.Producer)
	})
	if err != nil {
		log.Printf("payment service stopped: %v", err)
	}
}
