package repository

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

// MemoryRepository keeps orders in process. Events published inside a unit of
// work are buffered and handed to the transport only after the change is
// applied and the lock released, mirroring outbox-after-commit.
type MemoryRepository struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	transport bus.Transport
	logger    *zap.Logger
	now       func() time.Time
}

func NewMemoryRepository(transport bus.Transport, logger *zap.Logger) *MemoryRepository {
	return &MemoryRepository{
		orders:    map[string]*domain.Order{},
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *MemoryRepository) Create(ctx context.Context, order *domain.Order, fn bus.UnitOfWork) error {
	pub := &bufferedPublisher{now: r.now}

	r.mu.Lock()
	if _, ok := r.orders[order.ID]; ok {
		r.mu.Unlock()
		return ErrOrderExists
	}

	if fn != nil {
		if err := fn(ctx, pub); err != nil {
			r.mu.Unlock()
			return err
		}
	}

	now := r.now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	stored := cloneOrder(order)
	if stored.Stages == nil {
		stored.Stages = map[domain.Stage]domain.StageRecord{}
	}
	r.orders[order.ID] = stored
	r.mu.Unlock()

	r.flush(ctx, pub)
	return nil
}

func (r *MemoryRepository) Transition(ctx context.Context, change domain.StatusChange, fn bus.UnitOfWork) error {
	pub := &bufferedPublisher{now: r.now}

	r.mu.Lock()
	order, ok := r.orders[change.OrderID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrOrderNotFound
	}
	if order.Status != change.From {
		r.mu.Unlock()
		return domain.ErrStaleStatus
	}
	if order.HasStage(change.Stage) {
		r.mu.Unlock()
		return domain.ErrStageRecorded
	}

	now := r.now().UTC()
	if change.ChangesStatus() {
		if err := pub.Publish(ctx, domain.StatusChangedFrom(change, now)); err != nil {
			r.mu.Unlock()
			return err
		}
	}

	if fn != nil {
		if err := fn(ctx, pub); err != nil {
			r.mu.Unlock()
			return err
		}
	}

	order.Status = change.To
	order.UpdatedAt = now
	order.Stages[change.Stage] = domain.StageRecord{
		Stage:      change.Stage,
		Outcome:    change.Outcome,
		Reference:  change.Reference,
		RecordedAt: now,
	}
	r.mu.Unlock()

	r.flush(ctx, pub)
	return nil
}

// flush hands the buffered events to the transport. The change is already
// applied, so a send failure is logged and not returned: callers must not
// mistake a committed change for a failed one.
func (r *MemoryRepository) flush(ctx context.Context, pub *bufferedPublisher) {
	for _, msg := range pub.messages {
		if err := r.transport.Send(ctx, msg); err != nil {
			mylogger.Error(
				ctx,
				r.logger,
				"Failed to send event after applying change",
				zap.String("event", msg.Event),
				zap.String("event_id", msg.ID),
				zap.String("order_id", msg.Key),
				zap.Error(err),
			)
		}
	}
}

type bufferedPublisher struct {
	now      func() time.Time
	messages []bus.Message
}

func (p *bufferedPublisher) Publish(_ context.Context, event domain.Event) error {
	msg, err := bus.NewMessage(event, p.now())
	if err != nil {
		return err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	c.Stages = maps.Clone(o.Stages)
	if c.Stages == nil {
		c.Stages = map[domain.Stage]domain.StageRecord{}
	}
	return &c
}
