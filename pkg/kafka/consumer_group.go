package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/saga"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrPoison marks a message that can never be handled (bad envelope). It goes
// to the dead-letter topic without retries.
var ErrPoison = errors.New("poison message")

type ConsumerGroup struct {
	brokers  []string
	groupID  string
	topics   []string
	handler  bus.HandlerFunc
	producer Producer
	cfg      config.Kafka
	metrics  *metrics.SagaMetrics
	logger   *zap.Logger
}

func NewConsumerGroup(
	cfg config.Kafka,
	groupID string,
	topics []string,
	handler bus.HandlerFunc,
	producer Producer,
	metrics *metrics.SagaMetrics,
	logger *zap.Logger,
) *ConsumerGroup {
	return &ConsumerGroup{
		brokers:  cfg.Brokers,
		groupID:  groupID,
		topics:   topics,
		handler:  handler,
		producer: producer,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

func (c *ConsumerGroup) Run(ctx context.Context) error {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.BalanceStrategyRoundRobin}

	group, err := sarama.NewConsumerGroup(c.brokers, c.groupID, saramaConfig)
	if err != nil {
		return fmt.Errorf("error creating consumer group %s: %w", c.groupID, err)
	}

	defer func() {
		if err := group.Close(); err != nil {
			mylogger.Error(ctx, c.logger, "Error closing consumer group", zap.Error(err))
		}
	}()

	go func() {
		for err := range group.Errors() {
			mylogger.Warn(ctx, c.logger, "Consumer group error", zap.String("group", c.groupID), zap.Error(err))
		}
	}()

	consumer := &saramaHandler{group: c}

	for {
		err := group.Consume(ctx, c.topics, consumer)
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			mylogger.Error(ctx, c.logger, "Error consuming in consumer loop", zap.Error(err))
		}

		if ctx.Err() != nil {
			mylogger.Info(ctx, c.logger, "Context cancelled, shutting down consumer", zap.String("group", c.groupID))
			return nil
		}
	}
}

type saramaHandler struct {
	group *ConsumerGroup
}

func (h *saramaHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *saramaHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *saramaHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ctx, span := extractTracing(session.Context(), msg)

		err := h.group.deliver(ctx, msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()

			// Leave the offset uncommitted; the claim restarts from it after a
			// rebalance or restart.
			if session.Context().Err() != nil {
				return nil
			}
			mylogger.Error(
				ctx,
				h.group.logger,
				"Failed to process or dead-letter message",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return err
		}

		span.End()
		session.MarkMessage(msg, "")
	}

	return nil
}

// deliver runs the handler with exponential backoff. When the retry budget is
// spent, or the message is poison, or the handler already failed the order, it
// is copied to <topic><dlq suffix> and counted as delivered. A panicking
// handler counts as unexpected. Only a failed dead-letter write returns an
// error.
func (c *ConsumerGroup) deliver(ctx context.Context, raw *sarama.ConsumerMessage) error {
	var msg bus.Message
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return c.deadLetter(ctx, raw, fmt.Errorf("%w: %v", ErrPoison, err))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryBackoff
	policy.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := saga.Guard(func() error { return c.handler(ctx, msg) })
		if err != nil {
			mylogger.Warn(
				ctx,
				c.logger,
				"Handler failed",
				zap.String("event", msg.Event),
				zap.String("event_id", msg.ID),
				zap.String("order_id", msg.Key),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		if errors.Is(err, saga.ErrUnexpected) || errors.Is(err, bus.ErrMalformed) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, c.cfg.MaxRetries), ctx))
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	return c.deadLetter(ctx, raw, err)
}

func (c *ConsumerGroup) deadLetter(ctx context.Context, raw *sarama.ConsumerMessage, cause error) error {
	topic := raw.Topic + c.cfg.DLQSuffix

	if err := c.producer.DeadLetter(ctx, topic, raw, cause); err != nil {
		return errors.Join(cause, err)
	}

	c.metrics.DeadLettered.WithLabelValues(raw.Topic).Inc()

	mylogger.Error(
		ctx,
		c.logger,
		"Message dead-lettered",
		zap.String("topic", raw.Topic),
		zap.String("dlq_topic", topic),
		zap.Int64("offset", raw.Offset),
		zap.Error(cause),
	)

	return nil
}

func extractTracing(ctx context.Context, msg *sarama.ConsumerMessage) (context.Context, trace.Span) {
	carrier := propagation.MapCarrier{}
	for _, header := range msg.Headers {
		carrier[string(header.Key)] = string(header.Value)
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	return otel.Tracer("pkg/kafka/consumer").Start(ctx, "kafka_process "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int64("messaging.kafka.partition", int64(msg.Partition)),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
			attribute.String("messaging.kafka.message_key", string(msg.Key)),
		),
		trace.WithTimestamp(time.Now()),
	)
}
