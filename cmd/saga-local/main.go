package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	inventoryDomain "github.com/sakashimaa/order-saga/internal/inventory/domain"
	"github.com/sakashimaa/order-saga/internal/local"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var catalog = []inventoryDomain.Product{
	{ID: 1, Name: "Keyboard", SellerID: 10, Price: 4500, StockQuantity: 25, IsActive: true},
	{ID: 2, Name: "Mouse", SellerID: 10, Price: 1500, StockQuantity: 40, IsActive: true},
	{ID: 3, Name: "Monitor", SellerID: 11, Price: 21000, StockQuantity: 3, IsActive: true},
	{ID: 4, Name: "Retired webcam", SellerID: 11, Price: 3000, StockQuantity: 0, IsActive: false},
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	logger, err := config.NewLogger(cfg.LoggerConfig("saga-local"))
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, "saga-local", cfg.Tracing, cfg.Env)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	rt, err := local.New(cfg, logger, catalog)
	if err != nil {
		log.Fatalf("failed to build runtime: %v", err)
	}

	app := rt.App()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mylogger.Info(ctx, logger, "Local saga listening", zap.String("port", cfg.HTTP.Port))
		return app.Listen(cfg.HTTP.Port)
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tp.Shutdown(shutdownCtx); err != nil {
			mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
		}
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("saga-local stopped: %v", err)
	}
}
