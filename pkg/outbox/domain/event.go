package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sakashimaa/order-saga/pkg/bus"
)

// OutboxEvent is one outbox row. Payload is the complete bus envelope, so the
// relay never re-encodes events; Headers is the trace carrier captured when
// the row was written.
type OutboxEvent struct {
	ID            int64           `db:"id"`
	EventID       string          `db:"event_id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Topic         string          `db:"topic"`
	Payload       json.RawMessage `db:"payload"`
	Headers       json.RawMessage `db:"headers"`
	Attempts      int64           `db:"attempts"`
	CreatedAt     time.Time       `db:"created_at"`
}

func NewOutboxEvent(msg bus.Message, aggregateType string, headers json.RawMessage) (*OutboxEvent, error) {
	envelope, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope %s: %w", msg.ID, err)
	}

	return &OutboxEvent{
		EventID:       msg.ID,
		AggregateType: aggregateType,
		AggregateID:   msg.Key,
		EventType:     msg.Event,
		Topic:         msg.RoutingKey,
		Payload:       envelope,
		Headers:       headers,
	}, nil
}

func (e *OutboxEvent) Message() (bus.Message, error) {
	var msg bus.Message
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return bus.Message{}, fmt.Errorf("failed to unmarshal envelope of row %d: %w", e.ID, err)
	}
	return msg, nil
}
