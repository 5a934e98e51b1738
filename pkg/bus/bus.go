package bus

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/sakashimaa/order-saga/pkg/domain"
)

// Message is the envelope every event travels in. Key carries the order id so
// a transport can keep one order's events on one partition.
type Message struct {
	ID         string          `json:"event_id"`
	Event      string          `json:"event"`
	RoutingKey string          `json:"routing_key"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher is the port handlers publish through. Implementations decide
// whether publishing is transactional (outbox) or direct.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Transport moves an already-built envelope to subscribers.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

type HandlerFunc func(ctx context.Context, msg Message) error

// UnitOfWork runs inside a repository transaction; everything it publishes is
// committed or discarded together with the state change.
type UnitOfWork func(ctx context.Context, pub Publisher) error

func NewMessage(event domain.Event, now time.Time) (Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s: %w", event.EventName(), err)
	}

	return Message{
		ID:         NewEventID(now),
		Event:      event.EventName(),
		RoutingKey: event.RoutingKey(),
		Key:        event.AggregateID(),
		Payload:    payload,
		OccurredAt: now.UTC(),
	}, nil
}

func NewEventID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// ErrMalformed marks a payload that can never be handled.
var ErrMalformed = errors.New("malformed message")

var validate = validator.New()

// Decode unmarshals and validates the payload of msg.
func Decode[T any](msg Message) (*T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s payload: %w", ErrMalformed, msg.Event, err)
	}
	if err := validate.Struct(&v); err != nil {
		return nil, fmt.Errorf("%w: invalid %s payload: %w", ErrMalformed, msg.Event, err)
	}
	return &v, nil
}

type directPublisher struct {
	transport Transport
	now       func() time.Time
}

// NewDirectPublisher publishes straight onto a transport, without an outbox.
func NewDirectPublisher(transport Transport) Publisher {
	return &directPublisher{transport: transport, now: time.Now}
}

func (p *directPublisher) Publish(ctx context.Context, event domain.Event) error {
	msg, err := NewMessage(event, p.now())
	if err != nil {
		return err
	}
	return p.transport.Send(ctx, msg)
}
