package kafka

import (
	"context"

	"github.com/sakashimaa/order-saga/internal/payment/service"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

const defaultGroupID = "payment-service-group"

var Topics = []string{domain.RoutingInventoryReserved}

type Consumer struct {
	service service.PaymentService
	metrics *metrics.SagaMetrics
	logger  *zap.Logger
}

func NewConsumer(service service.PaymentService, metrics *metrics.SagaMetrics, logger *zap.Logger) *Consumer {
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
	case domain.EventInventoryReserved:
		event, err := bus.Decode[domain.InventoryReservedEvent](msg)
		if err != nil {
			mylogger.Error(ctx, c.logger, "Failed to decode event", zap.Error(err))
			return err
		}

		if err := c.service.HandleInventoryReserved(ctx, event); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to process payment", zap.String("order_id", event.OrderID), zap.Error(err))
			return err
		}
	default:
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event_type", msg.Event))
	}

	return nil
}
