package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/order-saga/internal/bootstrap"
	"github.com/sakashimaa/order-saga/internal/notification/email"
	"github.com/sakashimaa/order-saga/internal/notification/service"
	notificationKafka "github.com/sakashimaa/order-saga/internal/notification/transport/kafka"
	orderRepository "github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/pkg/metrics"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Start(ctx, "notification-service")
	if err != nil {
		log.Fatalf("failed to start notification service: %v", err)
	}
	defer svc.Close()

	sender := email.NewLogSender(svc.Logger)
	if svc.Cfg.SMTP.Host != "" {
		sender = email.NewSMTPSender(svc.Cfg.SMTP, svc.Logger)
	}

	notificationService, err := service.NewNotificationService(
		sender,
		orderRepository.NewOrderRepository(svc.Pool, svc.Outbox, svc.Logger),
		service.NewPostgresDeduplicator(svc.Pool, svc.Logger),
		svc.Cfg.Notification.DedupWindow,
		svc.Metrics,
		svc.Logger,
	)
	if err != nil {
		log.Fatalf("failed to create notification service: %v", err)
	}
	consumer := notificationKafka.NewConsumer(notificationService, svc.Metrics, svc.Logger)

	err = svc.Run(ctx, metrics.NewOpsApp(svc.Registry), func(ctx context.Context) error {
		return consumer.Start(ctx, svc.Cfg.Kafka, svc.Producer)
	})
	if err != nil {
		log.Printf("notification service stopped: %v", err)
	}
}
