package domain

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusReady     OrderStatus = "READY"
	OrderStatusDone      OrderStatus = "DONE"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDone, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	return string(s)
}

// Stage names the saga step that owns a status transition. An (order, stage)
// pair is recorded at most once and doubles as the idempotency key for
// redelivered events.
type Stage string

const (
	StageInventory Stage = "inventory"
	StagePayment   Stage = "payment"
	StageShipping  Stage = "shipping"
	StageDelivery  Stage = "delivery"
)

type StageRecord struct {
	Stage      Stage     `db:"stage"`
	Outcome    Outcome   `db:"outcome"`
	Reference  string    `db:"reference"`
	RecordedAt time.Time `db:"recorded_at"`
}

type OrderLineItem struct {
	ProductID     int64 `json:"product_id" db:"product_id" validate:"required,gt=0"`
	SellerID      int64 `json:"seller_id" db:"seller_id" validate:"required,gt=0"`
	Quantity      int64 `json:"quantity" db:"quantity" validate:"required,gt=0"`
	UnitPrice     int64 `json:"unit_price" db:"unit_price" validate:"gte=0"`
	DiscountValue int64 `json:"discount_value" db:"discount_value" validate:"gte=0"`
	TotalPrice    int64 `json:"total_price" db:"total_price"`
}

func (i *OrderLineItem) CalculateTotal() {
	i.TotalPrice = i.UnitPrice*i.Quantity - i.DiscountValue
}

type Order struct {
	ID              string          `db:"id"`
	MemberID        int64           `db:"member_id"`
	MemberEmail     string          `db:"member_email"`
	ShippingAddress string          `db:"shipping_address"`
	Status          OrderStatus     `db:"status"`
	Items           []OrderLineItem `db:"items"`
	TotalAmount     int64           `db:"total_amount"`
	Stages          map[Stage]StageRecord

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NewOrder builds a PENDING order and prices its lines.
func NewOrder(id string, memberID int64, email, address string, items []OrderLineItem) (*Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no line items", ErrInvalidOrder)
	}

	order := &Order{
		ID:              id,
		MemberID:        memberID,
		MemberEmail:     email,
		ShippingAddress: address,
		Status:          OrderStatusPending,
		Items:           append([]OrderLineItem(nil), items...),
		Stages:          map[Stage]StageRecord{},
	}

	for _, item := range order.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d has non-positive quantity", ErrInvalidOrder, item.ProductID)
		}
		if item.UnitPrice < 0 || item.DiscountValue < 0 {
			return nil, fmt.Errorf("%w: product %d has a negative price or discount", ErrInvalidOrder, item.ProductID)
		}
		if item.DiscountValue > item.UnitPrice*item.Quantity {
			return nil, fmt.Errorf("%w: discount exceeds price of product %d", ErrInvalidOrder, item.ProductID)
		}
	}

	order.CalculateTotal()

	// nothing to capture; the gateway would decline it
	if order.TotalAmount <= 0 {
		return nil, fmt.Errorf("%w: order total must be positive", ErrInvalidOrder)
	}

	return order, nil
}

func (o *Order) CalculateTotal() {
	var total int64
	for i := range o.Items {
		o.Items[i].CalculateTotal()
		total += o.Items[i].TotalPrice
	}
	o.TotalAmount = total
}

// Payable sums the persisted line totals. It deliberately does not reprice the
// lines so the captured amount always matches what the order recorded.
func (o *Order) Payable() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.TotalPrice
	}
	return total
}

func (o *Order) HasStage(stage Stage) bool {
	_, ok := o.Stages[stage]
	return ok
}

func (o *Order) ProductIDs() []int64 {
	ids := make([]int64, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// ReservedLines reports every line as fully reserved. Used by compensation
// paths that run after the inventory stage succeeded.
func (o *Order) ReservedLines() []InventoryLineOutcome {
	lines := make([]InventoryLineOutcome, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, InventoryLineOutcome{
			ProductID:    item.ProductID,
			RequestedQty: item.Quantity,
			ReservedQty:  item.Quantity,
			Available:    true,
		})
	}
	return lines
}
