package local

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	inventoryDomain "github.com/sakashimaa/order-saga/internal/inventory/domain"
	orderService "github.com/sakashimaa/order-saga/internal/order/service"
	"github.com/sakashimaa/order-saga/pkg/bus"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/saga"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

const declinedMember = 666

var testCatalog = []inventoryDomain.Product{
	{ID: 1, Name: "Keyboard", SellerID: 10, Price: 4500, StockQuantity: 25, IsActive: true},
	{ID: 2, Name: "Mouse", SellerID: 10, Price: 1500, StockQuantity: 40, IsActive: true},
	{ID: 3, Name: "Monitor", SellerID: 11, Price: 21000, StockQuantity: 3, IsActive: true},
	{ID: 4, Name: "Retired webcam", SellerID: 11, Price: 3000, StockQuantity: 0, IsActive: false},
}

func testConfig(mode string) *config.Config {
	breaker := config.Breaker{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  100,
		FailureRatio: 1,
	}

	return &config.Config{
		Kafka:        config.Kafka{MaxRetries: 2, RetryBackoff: time.Millisecond},
		Inventory:    config.Inventory{Mode: mode, Breaker: breaker},
		Payment:      config.Payment{Method: "card", DeclineAbove: 1_000_000, DeclinedMembers: []int64{declinedMember}, Breaker: breaker},
		Shipping:     config.Shipping{LeadTime: 72 * time.Hour, TrackingPrefix: "TRK"},
		Notification: config.Notification{DedupWindow: 128},
		Limiter:      config.Limiter{Max: 1000, Expiration: time.Minute},
	}
}

type recordingSender struct {
	mu      sync.Mutex
	shipped []string
	changed []domain.OrderStatus
}

func (r *recordingSender) SendShippingStarted(_ context.Context, _ string, event *domain.ShippingStartedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shipped = append(r.shipped, event.TrackingNumber)
	return nil
}

func (r *recordingSender) SendStatusChanged(_ context.Context, _ string, event *domain.OrderStatusChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, event.NewStatus)
	return nil
}

type RuntimeSuite struct {
	suite.Suite
	ctx    context.Context
	mode   string
	rt     *Runtime
	sender *recordingSender
}

func (s *RuntimeSuite) SetupTest() {
	s.ctx = context.Background()
	s.sender = &recordingSender{}

	rt, err := New(testConfig(s.mode), zap.NewNop(), testCatalog, WithSender(s.sender))
	s.Require().NoError(err)
	s.rt = rt
}

func (s *RuntimeSuite) place(memberID int64, items ...domain.OrderLineItem) *domain.Order {
	placed, err := s.rt.Service.PlaceOrder(s.ctx, orderService.PlaceOrderInput{
		MemberID:        memberID,
		Email:           "member@example.com",
		ShippingAddress: "1 Main St",
		Items:           items,
	})
	s.Require().NoError(err)

	order, err := s.rt.Service.GetOrder(s.ctx, placed.ID)
	s.Require().NoError(err)
	return order
}

func (s *RuntimeSuite) stock(productID int64) int64 {
	p, err := s.rt.Products.GetByID(s.ctx, productID)
	s.Require().NoError(err)
	return p.StockQuantity
}

func (s *RuntimeSuite) published(routingKey string) []bus.Message {
	return s.rt.Bus.Published(routingKey)
}

func keyboards(qty int64) domain.OrderLineItem {
	return domain.OrderLineItem{ProductID: 1, SellerID: 10, Quantity: qty, UnitPrice: 4500, DiscountValue: 500}
}

func mice(qty int64) domain.OrderLineItem {
	return domain.OrderLineItem{ProductID: 2, SellerID: 10, Quantity: qty, UnitPrice: 1500}
}

func (s *RuntimeSuite) TestHappyPathReachesReady() {
	order := s.place(1, keyboards(2), mice(1))

	s.Equal(domain.OrderStatusReady, order.Status)
	s.Equal(int64(10000), order.TotalAmount)
	s.Equal(domain.OutcomeStockReserved, order.Stages[domain.StageInventory].Outcome)
	s.Equal(domain.OutcomePaymentCaptured, order.Stages[domain.StagePayment].Outcome)
	s.Equal(domain.OutcomeShipmentStarted, order.Stages[domain.StageShipping].Outcome)

	processed := s.published(domain.RoutingPaymentProcessed)
	s.Require().Len(processed, 1)
	payment, err := bus.Decode[domain.PaymentProcessedEvent](processed[0])
	s.Require().NoError(err)
	s.Equal(order.TotalAmount, payment.Amount)

	shipped := s.published(domain.RoutingShippingStarted)
	s.Require().Len(shipped, 1)
	started, err := bus.Decode[domain.ShippingStartedEvent](shipped[0])
	s.Require().NoError(err)
	s.True(strings.HasPrefix(started.TrackingNumber, "TRK-"))
	s.Equal(started.TrackingNumber, order.Stages[domain.StageShipping].Reference)

	s.Empty(s.published(domain.RoutingInventoryRollback))
	s.Empty(s.rt.Bus.Failures())

	s.Equal([]string{started.TrackingNumber}, s.sender.shipped)
	s.Equal([]domain.OrderStatus{domain.OrderStatusPaid, domain.OrderStatusReady}, s.sender.changed)
}

func (s *RuntimeSuite) TestEveryOrderGetsItsOwnTrackingNumber() {
	first := s.place(1, mice(1))
	second := s.place(2, mice(1))

	s.Equal(domain.OrderStatusReady, first.Status)
	s.Equal(domain.OrderStatusReady, second.Status)
	s.NotEqual(
		first.Stages[domain.StageShipping].Reference,
		second.Stages[domain.StageShipping].Reference,
	)
}

func (s *RuntimeSuite) TestUnavailableProductCancels() {
	order := s.place(1, keyboards(1), domain.OrderLineItem{ProductID: 4, SellerID: 11, Quantity: 1, UnitPrice: 3000})

	s.Equal(domain.OrderStatusCancelled, order.Status)
	s.Equal(domain.OutcomeStockUnavailable, order.Stages[domain.StageInventory].Outcome)
	s.False(order.HasStage(domain.StagePayment))
	s.Empty(s.published(domain.RoutingInventoryReserved))
	s.Empty(s.published(domain.RoutingPaymentProcessed))
	s.Equal([]domain.OrderStatus{domain.OrderStatusCancelled}, s.sender.changed)
}

func (s *RuntimeSuite) TestDeclinedPaymentFailsAndRollsBack() {
	order := s.place(declinedMember, keyboards(2))

	s.Equal(domain.OrderStatusFailed, order.Status)
	s.Equal(domain.OutcomePaymentDeclined, order.Stages[domain.StagePayment].Outcome)
	s.False(order.HasStage(domain.StageShipping))

	rollbacks := s.published(domain.RoutingInventoryRollback)
	s.Require().Len(rollbacks, 1)
	rollback, err := bus.Decode[domain.InventoryRollbackRequestedEvent](rollbacks[0])
	s.Require().NoError(err)
	s.Equal(order.ReservedLines(), rollback.Lines)

	s.Empty(s.published(domain.RoutingPaymentProcessed))
	s.Empty(s.published(domain.RoutingShippingStarted))

	payment, err := s.rt.Payments.GetByOrderID(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal("DECLINED", string(payment.Status))
}

func (s *RuntimeSuite) TestRedeliveryChangesNothing() {
	order := s.place(1, keyboards(1), mice(2))
	s.Require().Equal(domain.OrderStatusReady, order.Status)

	before := map[string]int{}
	for _, key := range domain.AllRoutingKeys {
		before[key] = len(s.rt.Bus.Published(key))
	}

	for _, key := range domain.AllRoutingKeys {
		for _, msg := range s.rt.Bus.Published(key) {
			s.rt.Bus.Redeliver(s.ctx, msg)
		}
	}

	for _, key := range domain.AllRoutingKeys {
		s.Equal(before[key], len(s.rt.Bus.Published(key)), key)
	}
	s.Empty(s.rt.Bus.Failures())

	after, err := s.rt.Service.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(order.Status, after.Status)
	s.Equal(order.Stages, after.Stages)
	s.Len(s.sender.shipped, 1)
}

func (s *RuntimeSuite) TestMarkDelivered() {
	order := s.place(1, mice(1))

	done, err := s.rt.Service.MarkDelivered(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusDone, done.Status)
	s.True(done.HasStage(domain.StageDelivery))

	_, err = s.rt.Service.MarkDelivered(s.ctx, order.ID)
	s.ErrorIs(err, domain.ErrTerminalStatus)
}

func (s *RuntimeSuite) TestMarkDeliveredBeforeShipping() {
	order := s.place(declinedMember, mice(1))
	s.Require().Equal(domain.OrderStatusFailed, order.Status)

	_, err := s.rt.Service.MarkDelivered(s.ctx, order.ID)
	s.ErrorIs(err, domain.ErrTerminalStatus)

	_, err = s.rt.Service.MarkDelivered(s.ctx, "missing")
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

type panickingSender struct{}

func (panickingSender) SendShippingStarted(context.Context, string, *domain.ShippingStartedEvent) error {
	panic("mail template missing")
}

func (panickingSender) SendStatusChanged(context.Context, string, *domain.OrderStatusChangedEvent) error {
	panic("mail template missing")
}

func (s *RuntimeSuite) TestHandlerPanicIsDeadLetteredWithoutStoppingTheSaga() {
	rt, err := New(testConfig(s.mode), zap.NewNop(), testCatalog, WithSender(panickingSender{}))
	s.Require().NoError(err)
	s.rt = rt

	var order *domain.Order
	s.Require().NotPanics(func() {
		order = s.place(1, keyboards(1))
	})
	s.Equal(domain.OrderStatusReady, order.Status)

	failures := rt.Bus.Failures()
	s.Require().NotEmpty(failures)
	for _, failure := range failures {
		s.ErrorIs(failure.Err, saga.ErrPanic)
		s.ErrorIs(failure.Err, saga.ErrUnexpected)
	}

	second := s.place(1, mice(1))
	s.Equal(domain.OrderStatusReady, second.Status, "the bus keeps draining after a panic")
}

func TestRuntimeAvailabilityMode(t *testing.T) {
	suite.Run(t, &RuntimeSuite{mode: "availability"})
}

type StockRuntimeSuite struct {
	RuntimeSuite
}

func (s *StockRuntimeSuite) TestHappyPathHoldsStock() {
	order := s.place(1, keyboards(2), mice(1))

	s.Equal(domain.OrderStatusReady, order.Status)
	s.Equal(int64(23), s.stock(1))
	s.Equal(int64(39), s.stock(2))
}

func (s *StockRuntimeSuite) TestPartialStockCancelsAndRestores() {
	order := s.place(1, keyboards(2), domain.OrderLineItem{ProductID: 3, SellerID: 11, Quantity: 5, UnitPrice: 21000})

	s.Equal(domain.OrderStatusCancelled, order.Status)
	s.Len(s.published(domain.RoutingInventoryRollback), 1)
	s.Equal(int64(25), s.stock(1))
	s.Equal(int64(3), s.stock(3))
	s.Empty(s.published(domain.RoutingPaymentProcessed))
}

func (s *StockRuntimeSuite) TestDeclineRestoresStock() {
	order := s.place(declinedMember, keyboards(4))

	s.Equal(domain.OrderStatusFailed, order.Status)
	s.Equal(int64(25), s.stock(1))
}

func (s *StockRuntimeSuite) TestLastUnitsGoToOneOrder() {
	first := s.place(1, domain.OrderLineItem{ProductID: 3, SellerID: 11, Quantity: 3, UnitPrice: 21000})
	second := s.place(2, domain.OrderLineItem{ProductID: 3, SellerID: 11, Quantity: 1, UnitPrice: 21000})

	s.Equal(domain.OrderStatusReady, first.Status)
	s.Equal(domain.OrderStatusCancelled, second.Status)
	s.Equal(int64(0), s.stock(3))
}

func TestRuntimeStockMode(t *testing.T) {
	suite.Run(t, &StockRuntimeSuite{RuntimeSuite{mode: "stock"}})
}
