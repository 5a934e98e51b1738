package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sakashimaa/order-saga/pkg/config"
	kafkago "github.com/segmentio/kafka-go"
)

// EnsureTopics creates every topic and its dead-letter twin. Topics that
// already exist are left alone.
func EnsureTopics(ctx context.Context, cfg config.Kafka, topics []string) error {
	client := &kafkago.Client{
		Addr:    kafkago.TCP(cfg.Brokers...),
		Timeout: 10 * time.Second,
	}

	configs := make([]kafkago.TopicConfig, 0, len(topics)*2)
	for _, topic := range topics {
		for _, name := range []string{topic, topic + cfg.DLQSuffix} {
			configs = append(configs, kafkago.TopicConfig{
				Topic:             name,
				NumPartitions:     cfg.Partitions,
				ReplicationFactor: 1,
			})
		}
	}

	resp, err := client.CreateTopics(ctx, &kafkago.CreateTopicsRequest{
		Topics: configs,
	})
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	var errs []error
	for topic, topicErr := range resp.Errors {
		if topicErr == nil || errors.Is(topicErr, kafkago.TopicAlreadyExists) {
			continue
		}
		errs = append(errs, fmt.Errorf("topic %s: %w", topic, topicErr))
	}

	return errors.Join(errs...)
}
