package domain

import "errors"

var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrOrderNotFound     = errors.New("order not found")
	ErrTerminalStatus    = errors.New("order status is terminal")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrUnknownOutcome    = errors.New("unknown outcome")

	// ErrStaleStatus is returned when the compare-and-set lost against a
	// concurrent writer: the persisted status no longer matches the expected one.
	ErrStaleStatus = errors.New("order status changed concurrently")

	// ErrStageRecorded means the stage already has an outcome for this order.
	ErrStageRecorded = errors.New("stage already recorded")
)

// IsDuplicate reports errors that mean another delivery already did the work.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrStaleStatus) ||
		errors.Is(err, ErrStageRecorded) ||
		errors.Is(err, ErrTerminalStatus)
}
