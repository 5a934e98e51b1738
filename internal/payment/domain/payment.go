package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusCaptured PaymentStatus = "CAPTURED"
	PaymentStatusDeclined PaymentStatus = "DECLINED"
)

type Payment struct {
	ID             string        `db:"id"`
	OrderID        string        `db:"order_id"`
	MemberID       int64         `db:"member_id"`
	Amount         int64         `db:"amount"`
	Method         string        `db:"method"`
	Status         PaymentStatus `db:"status"`
	IdempotencyKey string        `db:"idempotency_key"`
	DeclineReason  string        `db:"decline_reason"`

	CreatedAt time.Time `db:"created_at"`
}

// Charge is one capture request. Gateways must return the same answer for
// the same IdempotencyKey.
type Charge struct {
	MemberID       int64
	Amount         int64
	Method         string
	IdempotencyKey string
}

type Receipt struct {
	PaymentID  string
	Amount     int64
	CapturedAt time.Time
}

func IdempotencyKey(orderID string) string {
	return "payment:" + orderID
}
