package domain

import "time"

// Routing keys double as Kafka topic names.
const (
	RoutingOrderCreated       = "order.created"
	RoutingInventoryReserved  = "inventory.reserved"
	RoutingInventoryRollback  = "inventory.rollback"
	RoutingPaymentProcessed   = "payment.processed"
	RoutingShippingStarted    = "shipping.started"
	RoutingOrderStatusChanged = "order.status.changed"
)

const (
	EventOrderCreated               = "OrderCreated"
	EventInventoryReserved          = "InventoryReserved"
	EventInventoryRollbackRequested = "InventoryRollbackRequested"
	EventPaymentProcessed           = "PaymentProcessed"
	EventShippingStarted            = "ShippingStarted"
	EventOrderStatusChanged         = "OrderStatusChanged"
)

// AllRoutingKeys lists every topic the saga produces to.
var AllRoutingKeys = []string{
	RoutingOrderCreated,
	RoutingInventoryReserved,
	RoutingInventoryRollback,
	RoutingPaymentProcessed,
	RoutingShippingStarted,
	RoutingOrderStatusChanged,
}

type Event interface {
	EventName() string
	RoutingKey() string
	AggregateID() string
}

type OrderCreatedEvent struct {
	OrderID         string          `json:"order_id" validate:"required"`
	MemberID        int64           `json:"member_id" validate:"required"`
	Email           string          `json:"email"`
	ShippingAddress string          `json:"shipping_address"`
	Items           []OrderLineItem `json:"items" validate:"required,min=1,dive"`
	TotalAmount     int64           `json:"total_amount"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

func (e OrderCreatedEvent) EventName() string   { return EventOrderCreated }
func (e OrderCreatedEvent) RoutingKey() string  { return RoutingOrderCreated }
func (e OrderCreatedEvent) AggregateID() string { return e.OrderID }

type InventoryLineOutcome struct {
	ProductID    int64 `json:"product_id"`
	RequestedQty int64 `json:"requested_qty"`
	ReservedQty  int64 `json:"reserved_qty"`
	Available    bool  `json:"available"`
}

type InventoryReservedEvent struct {
	OrderID    string                 `json:"order_id" validate:"required"`
	Lines      []InventoryLineOutcome `json:"lines"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func (e InventoryReservedEvent) EventName() string   { return EventInventoryReserved }
func (e InventoryReservedEvent) RoutingKey() string  { return RoutingInventoryReserved }
func (e InventoryReservedEvent) AggregateID() string { return e.OrderID }

type InventoryRollbackRequestedEvent struct {
	OrderID    string                 `json:"order_id" validate:"required"`
	Lines      []InventoryLineOutcome `json:"lines"`
	Reason     string                 `json:"reason"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func (e InventoryRollbackRequestedEvent) EventName() string   { return EventInventoryRollbackRequested }
func (e InventoryRollbackRequestedEvent) RoutingKey() string  { return RoutingInventoryRollback }
func (e InventoryRollbackRequestedEvent) AggregateID() string { return e.OrderID }

type PaymentProcessedEvent struct {
	OrderID       string    `json:"order_id" validate:"required"`
	MemberID      int64     `json:"member_id"`
	Amount        int64     `json:"amount"`
	PaymentID     string    `json:"payment_id"`
	PaymentMethod string    `json:"payment_method"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (e PaymentProcessedEvent) EventName() string   { return EventPaymentProcessed }
func (e PaymentProcessedEvent) RoutingKey() string  { return RoutingPaymentProcessed }
func (e PaymentProcessedEvent) AggregateID() string { return e.OrderID }

type ShippingStartedEvent struct {
	OrderID           string    `json:"order_id" validate:"required"`
	ShippingAddress   string    `json:"shipping_address"`
	TrackingNumber    string    `json:"tracking_number"`
	ProductIDs        []int64   `json:"product_ids"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (e ShippingStartedEvent) EventName() string   { return EventShippingStarted }
func (e ShippingStartedEvent) RoutingKey() string  { return RoutingShippingStarted }
func (e ShippingStartedEvent) AggregateID() string { return e.OrderID }

type OrderStatusChangedEvent struct {
	OrderID        string      `json:"order_id" validate:"required"`
	PreviousStatus OrderStatus `json:"previous_status"`
	NewStatus      OrderStatus `json:"new_status"`
	Reason         string      `json:"reason"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

func (e OrderStatusChangedEvent) EventName() string   { return EventOrderStatusChanged }
func (e OrderStatusChangedEvent) RoutingKey() string  { return RoutingOrderStatusChanged }
func (e OrderStatusChangedEvent) AggregateID() string { return e.OrderID }

// StatusChangedFrom builds the observability event for an applied change.
func StatusChangedFrom(change StatusChange, at time.Time) OrderStatusChangedEvent {
	return OrderStatusChangedEvent{
		OrderID:        change.OrderID,
		PreviousStatus: change.From,
		NewStatus:      change.To,
		Reason:         change.Reason,
		OccurredAt:     at,
	}
}
