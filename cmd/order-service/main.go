package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/order-saga/internal/bootstrap"
	"github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/internal/order/service"
	orderHTTP "github.com/sakashimaa/order-saga/internal/order/transport/http"
	"github.com/sakashimaa/order-saga/internal/order/transport/http/handler"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Start(ctx, "order-service")
	if err != nil {
		log.Fatalf("failed to start order service: %v", err)
	}
	defer svc.Close()

	orderRepo := repository.NewOrderRepository(svc.Pool, svc.Outbox, svc.Logger)
	orderService := service.NewOrderService(orderRepo, svc.Metrics, svc.Logger)

	app := orderHTTP.NewApp(svc.Cfg.Limiter, &orderHTTP.Handlers{
		Order: handler.NewOrderHandler(orderService, svc.Metrics, svc.Logger),
	}, svc.Registry)

	// The order service owns the outbox relay for the shared database.
	if err := svc.Run(ctx, app, svc.Relay()); err != nil {
		log.Printf("order service stopped: %v", err)
	}
}
