package saga

// Outcome is the result of a collaborator call that can legitimately say no.
// It is sealed: the only implementations are Success, Rejected and Failed, so
// a type switch over them is exhaustive.
type Outcome[T any] interface {
	isOutcome(T)
}

type Success[T any] struct {
	Value T
}

// Rejected is a business refusal (out of stock, card declined). It is a
// normal branch of the saga, not an error.
type Rejected[T any] struct {
	Reason string
}

// Failed carries an infrastructure or programming error.
type Failed[T any] struct {
	Cause error
}

func (Success[T]) isOutcome(T)  {}
func (Rejected[T]) isOutcome(T) {}
func (Failed[T]) isOutcome(T)   {}

func Succeed[T any](v T) Outcome[T] {
	return Success[T]{Value: v}
}

func Reject[T any](reason string) Outcome[T] {
	return Rejected[T]{Reason: reason}
}

func Fail[T any](cause error) Outcome[T] {
	return Failed[T]{Cause: cause}
}
