package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	msg, err := NewMessage(domain.PaymentProcessedEvent{OrderID: "o-1", Amount: 1200}, now)
	require.NoError(t, err)

	require.NotEmpty(t, msg.ID)
	require.Equal(t, domain.EventPaymentProcessed, msg.Event)
	require.Equal(t, domain.RoutingPaymentProcessed, msg.RoutingKey)
	require.Equal(t, "o-1", msg.Key)
	require.Equal(t, now, msg.OccurredAt)

	decoded, err := Decode[domain.PaymentProcessedEvent](msg)
	require.NoError(t, err)
	require.Equal(t, int64(1200), decoded.Amount)
}

func TestNewEventID_Unique(t *testing.T) {
	now := time.Now()
	seen := map[string]struct{}{}
	for range 100 {
		id := NewEventID(now)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode[domain.OrderCreatedEvent](Message{Event: domain.EventOrderCreated, Payload: json.RawMessage(`{`)})
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode[domain.OrderCreatedEvent](Message{Event: domain.EventOrderCreated, Payload: json.RawMessage(`{"order_id":"o-1","member_id":1}`)})
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode[domain.OrderCreatedEvent](Message{
		Event:   domain.EventOrderCreated,
		Payload: json.RawMessage(`{"order_id":"o-1","member_id":1,"items":[{"product_id":1,"seller_id":1,"quantity":0}]}`),
	})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestMemoryBus_DeliversInSendOrderWithoutRecursion(t *testing.T) {
	b := NewMemoryBus()
	pub := NewDirectPublisher(b)

	var trace []string
	depth := 0

	b.Subscribe(domain.RoutingOrderCreated, func(ctx context.Context, msg Message) error {
		depth++
		defer func() { depth-- }()
		require.Equal(t, 1, depth)

		trace = append(trace, "created:"+msg.Key)
		require.NoError(t, pub.Publish(ctx, domain.InventoryReservedEvent{OrderID: msg.Key}))
		trace = append(trace, "created-done:"+msg.Key)
		return nil
	})
	b.Subscribe(domain.RoutingInventoryReserved, func(_ context.Context, msg Message) error {
		trace = append(trace, "reserved:"+msg.Key)
		return nil
	})

	require.NoError(t, pub.Publish(context.Background(), domain.OrderCreatedEvent{OrderID: "a"}))

	require.Equal(t, []string{"created:a", "created-done:a", "reserved:a"}, trace)
	require.Len(t, b.Published(domain.RoutingOrderCreated), 1)
	require.Len(t, b.Published(domain.RoutingInventoryReserved), 1)
}

func TestMemoryBus_RecordsFailuresAndRedelivers(t *testing.T) {
	b := NewMemoryBus()
	boom := errors.New("boom")

	calls := 0
	b.Subscribe(domain.RoutingShippingStarted, func(context.Context, Message) error {
		calls++
		if calls == 1 {
			return boom
		}
		return nil
	})

	msg, err := NewMessage(domain.ShippingStartedEvent{OrderID: "o-1"}, time.Now())
	require.NoError(t, err)

	require.NoError(t, b.Send(context.Background(), msg))
	failures := b.Failures()
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0].Err, boom)

	b.Redeliver(context.Background(), msg)
	require.Equal(t, 2, calls)
	require.Len(t, b.Failures(), 1)
	require.Len(t, b.Published(domain.RoutingShippingStarted), 1)
}
