package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	orderRepository "github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/saga"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type ShippingServiceSuite struct {
	suite.Suite
	ctx    context.Context
	bus    *bus.MemoryBus
	orders *orderRepository.MemoryRepository
	svc    *shippingService
	now    time.Time
}

func (s *ShippingServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.bus = bus.NewMemoryBus()
	s.orders = orderRepository.NewMemoryRepository(s.bus, zap.NewNop())
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	svc := NewShippingService(
		s.orders,
		NewTrackingGenerator("TRK"),
		48*time.Hour,
		metrics.NewSagaMetrics(prometheus.NewRegistry(), "test"),
		zap.NewNop(),
	).(*shippingService)
	svc.now = func() time.Time { return s.now }
	s.svc = svc
}

// advance records outcomes for the order in sequence.
func (s *ShippingServiceSuite) advance(id string, steps ...domain.Outcome) {
	order, err := domain.NewOrder(id, 1, "m@example.com", "1 Main St", []domain.OrderLineItem{
		{ProductID: 4, SellerID: 1, Quantity: 1, UnitPrice: 100},
		{ProductID: 9, SellerID: 1, Quantity: 3, UnitPrice: 10},
	})
	s.Require().NoError(err)
	s.Require().NoError(s.orders.Create(s.ctx, order, nil))

	stages := map[domain.Outcome]domain.Stage{
		domain.OutcomeStockReserved:    domain.StageInventory,
		domain.OutcomeStockUnavailable: domain.StageInventory,
		domain.OutcomePaymentCaptured:  domain.StagePayment,
		domain.OutcomePaymentDeclined:  domain.StagePayment,
	}
	for _, outcome := range steps {
		current, err := s.orders.FindByID(s.ctx, id)
		s.Require().NoError(err)
		change, err := domain.NewStatusChange(current, stages[outcome], outcome, string(outcome))
		s.Require().NoError(err)
		s.Require().NoError(s.orders.Transition(s.ctx, change, nil))
	}
}

type brokenTracking struct{}

func (brokenTracking) Generate(string) string {
	panic("tracking sequence exhausted")
}

func (s *ShippingServiceSuite) TestPanicFailsOrder() {
	s.advance("o-1", domain.OutcomeStockReserved, domain.OutcomePaymentCaptured)
	s.svc.tracking = brokenTracking{}

	var err error
	s.Require().NotPanics(func() {
		err = s.svc.HandlePaymentProcessed(s.ctx, &domain.PaymentProcessedEvent{OrderID: "o-1"})
	})
	s.Require().ErrorIs(err, saga.ErrUnexpected)
	s.ErrorIs(err, saga.ErrPanic)

	order, err := s.orders.FindByID(s.ctx, "o-1")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusFailed, order.Status)
	s.Equal(domain.OutcomeProcessingError, order.Stages[domain.StageShipping].Outcome)
	s.Empty(s.bus.Published(domain.RoutingShippingStarted))
}

func (s *ShippingServiceSuite) TestStartsShipment() {
	s.advance("o-1", domain.OutcomeStockReserved, domain.OutcomePaymentCaptured)

	s.Require().NoError(s.svc.HandlePaymentProcessed(s.ctx, &domain.PaymentProcessedEvent{OrderID: "o-1"}))

	order, err := s.orders.FindByID(s.ctx, "o-1")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusReady, order.Status)

	published := s.bus.Published(domain.RoutingShippingStarted)
	s.Require().Len(published, 1)
	started, err := bus.Decode[domain.ShippingStartedEvent](published[0])
	s.Require().NoError(err)

	s.True(strings.HasPrefix(started.TrackingNumber, "TRK-"))
	s.Equal(started.TrackingNumber, order.Stages[domain.StageShipping].Reference)
	s.Equal("1 Main St", started.ShippingAddress)
	s.Equal([]int64{4, 9}, started.ProductIDs)
	s.True(started.EstimatedDelivery.Equal(s.now.Add(48 * time.Hour)))
}

func (s *ShippingServiceSuite) TestRedeliveryKeepsFirstTrackingNumber() {
	s.advance("o-1", domain.OutcomeStockReserved, domain.OutcomePaymentCaptured)
	event := &domain.PaymentProcessedEvent{OrderID: "o-1"}

	s.Require().NoError(s.svc.HandlePaymentProcessed(s.ctx, event))
	first, err := s.orders.FindByID(s.ctx, "o-1")
	s.Require().NoError(err)

	s.Require().NoError(s.svc.HandlePaymentProcessed(s.ctx, event))
	second, err := s.orders.FindByID(s.ctx, "o-1")
	s.Require().NoError(err)

	s.Len(s.bus.Published(domain.RoutingShippingStarted), 1)
	s.Equal(first.Stages[domain.StageShipping].Reference, second.Stages[domain.StageShipping].Reference)
}

func (s *ShippingServiceSuite) TestSkipsOrdersThatAreNotPaid() {
	s.advance("pending", domain.OutcomeStockReserved)
	s.advance("failed", domain.OutcomeStockReserved, domain.OutcomePaymentDeclined)

	for _, id := range []string{"pending", "failed"} {
		s.Require().NoError(s.svc.HandlePaymentProcessed(s.ctx, &domain.PaymentProcessedEvent{OrderID: id}))

		order, err := s.orders.FindByID(s.ctx, id)
		s.Require().NoError(err)
		s.False(order.HasStage(domain.StageShipping))
	}

	s.Empty(s.bus.Published(domain.RoutingShippingStarted))
}

func (s *ShippingServiceSuite) TestUnknownOrder() {
	err := s.svc.HandlePaymentProcessed(s.ctx, &domain.PaymentProcessedEvent{OrderID: "missing"})
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func TestShippingServiceSuite(t *testing.T) {
	suite.Run(t, new(ShippingServiceSuite))
}

func TestTrackingGenerator_Unique(t *testing.T) {
	g := NewTrackingGenerator("SHIP")
	seen := map[string]struct{}{}

	for range 1000 {
		number := g.Generate("o-1")
		require.True(t, strings.HasPrefix(number, "SHIP-"))
		require.NotContains(t, seen, number)
		seen[number] = struct{}{}
	}
}
