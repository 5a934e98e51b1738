package domain

import (
	"fmt"
	"slices"
)

type Outcome string

const (
	OutcomeStockReserved    Outcome = "stock_reserved"
	OutcomeStockUnavailable Outcome = "stock_unavailable"
	OutcomePaymentCaptured  Outcome = "payment_captured"
	OutcomePaymentDeclined  Outcome = "payment_declined"
	OutcomeShipmentStarted  Outcome = "shipment_started"
	OutcomeDelivered        Outcome = "delivered"
	OutcomeProcessingError  Outcome = "processing_error"
)

type transition struct {
	from []OrderStatus // nil means any non-terminal status
	to   OrderStatus
}

var transitions = map[Outcome]transition{
	OutcomeStockReserved:    {from: []OrderStatus{OrderStatusPending}, to: OrderStatusPending},
	OutcomeStockUnavailable: {from: []OrderStatus{OrderStatusPending}, to: OrderStatusCancelled},
	OutcomePaymentCaptured:  {from: []OrderStatus{OrderStatusPending}, to: OrderStatusPaid},
	OutcomePaymentDeclined:  {from: []OrderStatus{OrderStatusPending}, to: OrderStatusFailed},
	OutcomeShipmentStarted:  {from: []OrderStatus{OrderStatusPaid}, to: OrderStatusReady},
	OutcomeDelivered:        {from: []OrderStatus{OrderStatusReady}, to: OrderStatusDone},
	OutcomeProcessingError:  {to: OrderStatusFailed},
}

// Next returns the status an order moves to when outcome is applied to
// current. A terminal current status yields ErrTerminalStatus, which callers
// treat as an idempotent no-op.
func Next(current OrderStatus, outcome Outcome) (OrderStatus, error) {
	if current.IsTerminal() {
		return current, ErrTerminalStatus
	}

	t, ok := transitions[outcome]
	if !ok {
		return current, fmt.Errorf("%w: %q", ErrUnknownOutcome, outcome)
	}

	if t.from != nil && !slices.Contains(t.from, current) {
		return current, fmt.Errorf("%w: %s from %s", ErrIllegalTransition, outcome, current)
	}

	return t.to, nil
}

// StatusChange is a compare-and-set request: move OrderID from From to To and
// record Outcome for Stage, or fail if either has already happened.
type StatusChange struct {
	OrderID   string
	Stage     Stage
	Outcome   Outcome
	From      OrderStatus
	To        OrderStatus
	Reason    string
	Reference string
}

func NewStatusChange(order *Order, stage Stage, outcome Outcome, reason string) (StatusChange, error) {
	to, err := Next(order.Status, outcome)
	if err != nil {
		return StatusChange{}, err
	}

	return StatusChange{
		OrderID: order.ID,
		Stage:   stage,
		Outcome: outcome,
		From:    order.Status,
		To:      to,
		Reason:  reason,
	}, nil
}

func (c StatusChange) ChangesStatus() bool {
	return c.From != c.To
}
