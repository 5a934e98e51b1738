package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.events = append(p.events, event)
	return nil
}

type fakeStore struct {
	err     error
	changes []domain.StatusChange
	pub     *recordingPublisher
}

func (s *fakeStore) Transition(ctx context.Context, change domain.StatusChange, fn bus.UnitOfWork) error {
	if s.err != nil {
		return s.err
	}
	s.changes = append(s.changes, change)
	s.pub = &recordingPublisher{}
	return fn(ctx, s.pub)
}

type fakeReleaser struct {
	failFor  map[int64]error
	released []int64
}

func (r *fakeReleaser) Release(_ context.Context, _ string, line domain.InventoryLineOutcome) error {
	if err := r.failFor[line.ProductID]; err != nil {
		return err
	}
	r.released = append(r.released, line.ProductID)
	return nil
}

type SagaSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *SagaSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *SagaSuite) TestFailOrder_MarksFailedAndRequestsRollback() {
	store := &fakeStore{}
	order := &domain.Order{ID: "o-1", Status: domain.OrderStatusPaid}
	cause := errors.New("label printer on fire")
	lines := []domain.InventoryLineOutcome{
		{ProductID: 1, RequestedQty: 1, ReservedQty: 1, Available: true},
		{ProductID: 2, RequestedQty: 1, ReservedQty: 0, Available: false},
	}

	err := FailOrder(s.ctx, store, order, domain.StageShipping, cause, lines)
	s.Require().ErrorIs(err, ErrUnexpected)
	s.Require().ErrorIs(err, cause)
	s.Require().False(IsTransient(err))

	s.Require().Len(store.changes, 1)
	change := store.changes[0]
	s.Equal(domain.OrderStatusPaid, change.From)
	s.Equal(domain.OrderStatusFailed, change.To)
	s.Equal(domain.OutcomeProcessingError, change.Outcome)
	s.Contains(change.Reason, "label printer on fire")

	s.Require().Len(store.pub.events, 1)
	rollback, ok := store.pub.events[0].(domain.InventoryRollbackRequestedEvent)
	s.Require().True(ok)
	s.Equal([]domain.InventoryLineOutcome{lines[0]}, rollback.Lines)
}

func (s *SagaSuite) TestFailOrder_NothingReservedPublishesNothing() {
	store := &fakeStore{}
	order := &domain.Order{ID: "o-1", Status: domain.OrderStatusPending}

	err := FailOrder(s.ctx, store, order, domain.StageInventory, errors.New("bug"), nil)
	s.Require().ErrorIs(err, ErrUnexpected)
	s.Empty(store.pub.events)
}

func (s *SagaSuite) TestFailOrder_TerminalOrderIsLeftAlone() {
	store := &fakeStore{}
	order := &domain.Order{ID: "o-1", Status: domain.OrderStatusCancelled}

	err := FailOrder(s.ctx, store, order, domain.StagePayment, errors.New("bug"), nil)
	s.Require().ErrorIs(err, ErrUnexpected)
	s.Empty(store.changes)
}

func (s *SagaSuite) TestFailOrder_LostRaceStillDeadLetters() {
	store := &fakeStore{err: domain.ErrStaleStatus}
	order := &domain.Order{ID: "o-1", Status: domain.OrderStatusPending}

	err := FailOrder(s.ctx, store, order, domain.StagePayment, errors.New("bug"), nil)
	s.Require().ErrorIs(err, ErrUnexpected)
}

func (s *SagaSuite) TestFailOrder_PersistFailureIsRetryable() {
	dbDown := errors.New("connection refused")
	store := &fakeStore{err: dbDown}
	order := &domain.Order{ID: "o-1", Status: domain.OrderStatusPending}

	err := FailOrder(s.ctx, store, order, domain.StagePayment, errors.New("bug"), nil)
	s.Require().ErrorIs(err, dbDown)
	s.Require().NotErrorIs(err, ErrUnexpected)
}

func (s *SagaSuite) TestRollback_ReleasesOnlyReservedLinesAndJoinsErrors() {
	broken := errors.New("warehouse offline")
	releaser := &fakeReleaser{failFor: map[int64]error{2: broken}}
	compensator := NewCompensator(releaser, zap.NewNop())

	err := compensator.Rollback(s.ctx, "o-1", []domain.InventoryLineOutcome{
		{ProductID: 1, ReservedQty: 1, Available: true},
		{ProductID: 2, ReservedQty: 3, Available: true},
		{ProductID: 3, ReservedQty: 2, Available: true},
		{ProductID: 4, ReservedQty: 0, Available: false},
	})

	s.Require().ErrorIs(err, broken)
	s.Equal([]int64{1, 3}, releaser.released)
}

func (s *SagaSuite) TestRollback_NoLines() {
	releaser := &fakeReleaser{}
	s.Require().NoError(NewCompensator(releaser, zap.NewNop()).Rollback(s.ctx, "o-1", nil))
	s.Empty(releaser.released)
}

func TestSagaSuite(t *testing.T) {
	suite.Run(t, new(SagaSuite))
}

func TestTransient(t *testing.T) {
	require.Nil(t, Transient(nil))

	err := Transient(errors.New("timeout"))
	require.True(t, IsTransient(err))
	require.True(t, IsTransient(context.DeadlineExceeded))
	require.False(t, IsTransient(errors.New("bug")))
}

func TestUnexpected_Idempotent(t *testing.T) {
	require.Nil(t, Unexpected(nil))

	once := Unexpected(errors.New("bug"))
	require.Same(t, once, Unexpected(once))
}

func TestGuard(t *testing.T) {
	require.NoError(t, Guard(func() error { return nil }))

	boom := errors.New("boom")
	require.ErrorIs(t, Guard(func() error { return boom }), boom)

	err := Guard(func() error {
		var counts map[string]int
		counts["x"]++
		return nil
	})
	require.ErrorIs(t, err, ErrUnexpected)
	require.ErrorIs(t, err, ErrPanic)
	require.False(t, IsTransient(err))

	err = Guard(func() error { panic(boom) })
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, ErrPanic)
}

func TestOutcome_TypeSwitch(t *testing.T) {
	describe := func(o Outcome[int]) string {
		switch v := o.(type) {
		case Success[int]:
			return "ok"
		case Rejected[int]:
			return "rejected: " + v.Reason
		case Failed[int]:
			return "failed: " + v.Cause.Error()
		default:
			return "unknown"
		}
	}

	require.Equal(t, "ok", describe(Succeed(1)))
	require.Equal(t, "rejected: no", describe(Reject[int]("no")))
	require.Equal(t, "failed: boom", describe(Fail[int](errors.New("boom"))))
}
