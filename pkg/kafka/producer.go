package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const headerDLQError = "x-dlq-error"

type Producer interface {
	bus.Transport
	DeadLetter(ctx context.Context, topic string, msg *sarama.ConsumerMessage, cause error) error
	Close() error
}

type producer struct {
	syncProducer sarama.SyncProducer
}

func NewProducer(brokers []string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V3_0_0_0

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("error creating producer: %w", err)
	}

	return &producer{syncProducer: p}, nil
}

// Send publishes msg to the topic named by its routing key, keyed by the order
// id so every event of one order lands on the same partition.
func (p *producer) Send(ctx context.Context, msg bus.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msg.Event, err)
	}

	_, _, err = p.syncProducer.SendMessage(&sarama.ProducerMessage{
		Topic:   msg.RoutingKey,
		Key:     sarama.StringEncoder(msg.Key),
		Value:   sarama.ByteEncoder(value),
		Headers: injectHeaders(ctx),
	})
	if err != nil {
		return fmt.Errorf("error sending message to %s: %w", msg.RoutingKey, err)
	}

	return nil
}

func (p *producer) DeadLetter(ctx context.Context, topic string, msg *sarama.ConsumerMessage, cause error) error {
	headers := make([]sarama.RecordHeader, 0, len(msg.Headers)+1)
	for _, h := range msg.Headers {
		if h != nil {
			headers = append(headers, *h)
		}
	}
	headers = append(headers, sarama.RecordHeader{
		Key:   []byte(headerDLQError),
		Value: []byte(cause.Error()),
	})

	_, _, err := p.syncProducer.SendMessage(&sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.ByteEncoder(msg.Key),
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("error dead-lettering to %s: %w", topic, err)
	}

	return nil
}

func (p *producer) Close() error {
	return p.syncProducer.Close()
}

func injectHeaders(ctx context.Context) []sarama.RecordHeader {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]sarama.RecordHeader, 0, len(carrier))
	for k, v := range carrier {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}
	return headers
}
