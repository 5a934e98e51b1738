package bus

import (
	"context"
	"slices"
	"sync"
)

type Failure struct {
	Message Message
	Err     error
}

// MemoryBus is an in-process Transport. Messages are dispatched in FIFO order
// by whichever Send call finds the bus idle, so handlers that publish from
// inside a delivery never recurse.
type MemoryBus struct {
	mu       sync.Mutex
	handlers map[string][]HandlerFunc
	sent     []Message
	queue    []Message
	failures []Failure
	draining bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: map[string][]HandlerFunc{}}
}

func (b *MemoryBus) Subscribe(routingKey string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[routingKey] = append(b.handlers[routingKey], handler)
}

func (b *MemoryBus) Send(ctx context.Context, msg Message) error {
	b.mu.Lock()
	b.sent = append(b.sent, msg)
	b.queue = append(b.queue, msg)
	if b.draining {
		b.mu.Unlock()
		return nil
	}
	b.draining = true
	b.mu.Unlock()

	b.drain(ctx)
	return nil
}

// Redeliver dispatches msg again without recording it as a new publication.
func (b *MemoryBus) Redeliver(ctx context.Context, msg Message) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()

	b.drain(ctx)
}

func (b *MemoryBus) drain(ctx context.Context) {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		msg := b.queue[0]
		b.queue = b.queue[1:]
		handlers := slices.Clone(b.handlers[msg.RoutingKey])
		b.mu.Unlock()

		for _, handler := range handlers {
			if err := handler(ctx, msg); err != nil {
				b.mu.Lock()
				b.failures = append(b.failures, Failure{Message: msg, Err: err})
				b.mu.Unlock()
			}
		}
	}
}

// Published returns every message sent with routingKey, in send order.
func (b *MemoryBus) Published(routingKey string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Message
	for _, msg := range b.sent {
		if msg.RoutingKey == routingKey {
			out = append(out, msg)
		}
	}
	return out
}

func (b *MemoryBus) Failures() []Failure {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.failures)
}
