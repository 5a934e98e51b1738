// Package local wires every saga participant to the in-memory bus and
// repositories inside one process.
package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	inventoryDomain "github.com/sakashimaa/order-saga/internal/inventory/domain"
	inventoryRepository "github.com/sakashimaa/order-saga/internal/inventory/repository"
	inventoryService "github.com/sakashimaa/order-saga/internal/inventory/service"
	inventoryKafka "github.com/sakashimaa/order-saga/internal/inventory/transport/kafka"
	"github.com/sakashimaa/order-saga/internal/notification/email"
	notificationService "github.com/sakashimaa/order-saga/internal/notification/service"
	notificationKafka "github.com/sakashimaa/order-saga/internal/notification/transport/kafka"
	orderRepository "github.com/sakashimaa/order-saga/internal/order/repository"
	orderService "github.com/sakashimaa/order-saga/internal/order/service"
	orderHTTP "github.com/sakashimaa/order-saga/internal/order/transport/http"
	"github.com/sakashimaa/order-saga/internal/order/transport/http/handler"
	"github.com/sakashimaa/order-saga/internal/payment/gateway"
	paymentRepository "github.com/sakashimaa/order-saga/internal/payment/repository"
	paymentService "github.com/sakashimaa/order-saga/internal/payment/service"
	paymentKafka "github.com/sakashimaa/order-saga/internal/payment/transport/kafka"
	shippingService "github.com/sakashimaa/order-saga/internal/shipping/service"
	shippingKafka "github.com/sakashimaa/order-saga/internal/shipping/transport/kafka"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/saga"
	"go.uber.org/zap"
)

type Runtime struct {
	Bus      *bus.MemoryBus
	Orders   *orderRepository.MemoryRepository
	Products *inventoryRepository.MemoryProductRepository
	Payments *paymentRepository.MemoryPaymentRepository
	Service  orderService.OrderService
	Registry *prometheus.Registry
	Metrics  *metrics.SagaMetrics

	cfg    *config.Config
	sender email.Sender
	logger *zap.Logger
}

type Option func(*Runtime)

// WithSender replaces the logging sender, e.g. with a recording fake.
func WithSender(sender email.Sender) Option {
	return func(r *Runtime) {
		r.sender = sender
	}
}

func New(cfg *config.Config, logger *zap.Logger, catalog []inventoryDomain.Product, opts ...Option) (*Runtime, error) {
	memoryBus := bus.NewMemoryBus()
	registry := metrics.NewRegistry()

	rt := &Runtime{
		Bus:      memoryBus,
		Orders:   orderRepository.NewMemoryRepository(memoryBus, logger),
		Products: inventoryRepository.NewMemoryProductRepository(catalog...),
		Payments: paymentRepository.NewMemoryPaymentRepository(),
		Registry: registry,
		Metrics:  metrics.NewSagaMetrics(registry, "local"),
		cfg:      cfg,
		sender:   email.NewLogSender(logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(rt)
	}

	inventory, err := inventoryService.NewInventory(cfg.Inventory.Mode, rt.Products, cfg.Inventory.Breaker, logger)
	if err != nil {
		return nil, err
	}

	capture := gateway.WithBreaker(gateway.NewSimulatedGateway(cfg.Payment), cfg.Payment.Breaker, logger)

	notifications, err := notificationService.NewNotificationService(
		rt.sender,
		rt.Orders,
		notificationService.NoDeduplication(),
		cfg.Notification.DedupWindow,
		rt.Metrics,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification service: %w", err)
	}

	rt.subscribe(inventoryKafka.Topics, inventoryKafka.NewConsumer(
		inventoryService.NewInventoryService(rt.Orders, inventory, rt.Metrics, logger),
		rt.Metrics,
		logger,
	).ProcessMessage)

	rt.subscribe(paymentKafka.Topics, paymentKafka.NewConsumer(
		paymentService.NewPaymentService(rt.Orders, rt.Payments, capture, cfg.Payment.Method, rt.Metrics, logger),
		rt.Metrics,
		logger,
	).ProcessMessage)

	rt.subscribe(shippingKafka.Topics, shippingKafka.NewConsumer(
		shippingService.NewShippingService(
			rt.Orders,
			shippingService.NewTrackingGenerator(cfg.Shipping.TrackingPrefix),
			cfg.Shipping.LeadTime,
			rt.Metrics,
			logger,
		),
		rt.Metrics,
		logger,
	).ProcessMessage)

	rt.subscribe(notificationKafka.Topics, notificationKafka.NewConsumer(notifications, rt.Metrics, logger).ProcessMessage)

	rt.Service = orderService.NewOrderService(rt.Orders, rt.Metrics, logger)

	return rt, nil
}

// App is the order API bound to this runtime.
func (r *Runtime) App() *fiber.App {
	return orderHTTP.NewApp(r.cfg.Limiter, &orderHTTP.Handlers{
		Order: handler.NewOrderHandler(r.Service, r.Metrics, r.logger),
	}, r.Registry)
}

func (r *Runtime) subscribe(topics []string, handle bus.HandlerFunc) {
	handle = r.Metrics.Observe(r.retrying(handle))
	for _, topic := range topics {
		r.Bus.Subscribe(topic, handle)
	}
}

// retrying gives in-process deliveries the same retry budget a consumer
// group applies.
func (r *Runtime) retrying(next bus.HandlerFunc) bus.HandlerFunc {
	return func(ctx context.Context, msg bus.Message) error {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = r.cfg.Kafka.RetryBackoff
		policy.MaxElapsedTime = 0

		err := backoff.Retry(func() error {
			err := saga.Guard(func() error { return next(ctx, msg) })
			if errors.Is(err, saga.ErrUnexpected) || errors.Is(err, bus.ErrMalformed) {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(backoff.WithMaxRetries(policy, r.cfg.Kafka.MaxRetries), ctx))
		if err != nil {
			r.Metrics.DeadLettered.WithLabelValues(msg.RoutingKey).Inc()
			mylogger.Error(
				ctx,
				r.logger,
				"Delivery exhausted retries",
				zap.String("event", msg.Event),
				zap.String("order_id", msg.Key),
				zap.Error(err),
			)
		}
		return err
	}
}
