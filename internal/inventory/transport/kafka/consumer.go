package kafka

import (
	"context"

	"github.com/sakashimaa/order-saga/internal/inventory/service"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

const defaultGroupID = "inventory-service-group"

var Topics = []string{domain.RoutingOrderCreated, domain.RoutingInventoryRollback}

type Consumer struct {
	service service.InventoryService
	metrics *metrics.SagaMetrics
	logger  *zap.Logger
}

func NewConsumer(service service.InventoryService, metrics *metrics.SagaMetrics, logger *zap.Logger) *Consumer {
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
	mylogger.Debug(
		ctx,
		c.logger,
		"Processing message",
		zap.String("event", msg.Event),
		zap.String("event_id", msg.ID),
	)

	switch msg.Event {
	case domain.EventOrderCreated:
		event, err := bus.Decode[domain.OrderCreatedEvent](msg)
		if err != nil {
			mylogger.Error(ctx, c.logger, "Failed to decode event", zap.Error(err))
			return err
		}

		return c.service.HandleOrderCreated(ctx, event)
	case domain.EventInventoryRollbackRequested:
		event, err := bus.Decode[domain.InventoryRollbackRequestedEvent](msg)
		if err != nil {
			mylogger.Error(ctx, c.logger, "Failed to decode event", zap.Error(err))
			return err
		}

		return c.service.HandleRollbackRequested(ctx, event)
	default:
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event_type", msg.Event))
	}

	return nil
}
