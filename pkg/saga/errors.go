package saga

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransient marks failures worth retrying without touching order status:
// broker or database unavailable, collaborator timeouts, open breakers.
var ErrTransient = errors.New("transient failure")

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// ErrUnexpected marks an error that already failed its order. Retrying it
// cannot help, so transports dead-letter it straight away.
var ErrUnexpected = errors.New("unexpected failure")

func Unexpected(err error) error {
	if err == nil || errors.Is(err, ErrUnexpected) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnexpected, err)
}

var ErrPanic = errors.New("handler panicked")

// Panicked converts a recovered panic value into an error.
func Panicked(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrPanic, r)
}

// Guard runs fn and reports a panic as an Unexpected error, so a transport
// dead-letters the message instead of crashing or redelivering it forever.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Unexpected(Panicked(r))
		}
	}()
	return fn()
}
