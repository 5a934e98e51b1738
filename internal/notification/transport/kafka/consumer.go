package kafka

import (
	"context"

	"github.com/sakashimaa/order-saga/internal/notification/service"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

const defaultGroupID = "notification-service-group"

var Topics = []string{domain.RoutingShippingStarted, domain.RoutingOrderStatusChanged}

type Consumer struct {
	service *service.NotificationService
	metrics *metrics.SagaMetrics
	logger  *zap.Logger
}

func NewConsumer(service *service.NotificationService, metrics *metrics.SagaMetrics, logger *zap.Logger) *Consumer {
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

// ProcessMessage never fails: a notification is not worth a redelivery.
func (c *Consumer) ProcessMessage(ctx context.Context, msg bus.Message) error {
	switch msg.Event {
	case domain.EventShippingStarted:
		event, err := bus.Decode[domain.ShippingStartedEvent](msg)
		if err != nil {
			mylogger.Warn(ctx, c.logger, "Dropping malformed event", zap.String("event_id", msg.ID), zap.Error(err))
			return nil
		}
		c.service.HandleShippingStarted(ctx, msg.ID, event)
	case domain.EventOrderStatusChanged:
		event, err := bus.Decode[domain.OrderStatusChangedEvent](msg)
		if err != nil {
			mylogger.Warn(ctx, c.logger, "Dropping malformed event", zap.String("event_id", msg.ID), zap.Error(err))
			return nil
		}
		c.service.HandleStatusChanged(ctx, msg.ID, event)
	default:
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event_type", msg.Event))
	}

	return nil
}
