package kafka

import (
	"context"

	"github.com/sakashimaa/order-saga/internal/shipping/service"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

const defaultGroupID = "shipping-service-group"

var Topics = []string{domain.RoutingPaymentProcessed}

type Consumer struct {
	service service.ShippingService
	metrics *metrics.SagaMetrics
	logger  *zap.Logger
}

func NewConsumer(service service.ShippingService, metrics *metrics.SagaMetrics, logger *zap.Logger) *Consumer {
	return &Consumer{
		service: service,
		metrics: metrics,
		logger:  logger,
	}
}

func (c *Consumer) Start(ctx context.Context, cfg config.Kafka, producer kafka.Producer) error {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = defaultGroupID
	}

	return kafka.NewConsumerGroup(
		cfg,
		groupID,
		Topics,
		c.metrics.Observe(c.ProcessMessage),
		producer,
		c.metrics,
		c.logger,
	).Run(ctx)
}

func (c *Consumer) ProcessMessage(ctx context.Context, msg bus.Message) error {
	switch msg.Event {
	case domain.EventPaymentProcessed:
		event, err := bus.Decode[domain.PaymentProcessedEvent](msg)
		if err != nil {
			mylogger.Error(ctx, c.logger, "Failed to decode event", zap.Error(err))
			return err
		}

		if err := c.service.HandlePaymentProcessed(ctx, event); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to start shipment", zap.String("order_id", event.OrderID), zap.Error(err))
			return err
		}
	default:
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event_type", msg.Event))
	}

	return nil
}
