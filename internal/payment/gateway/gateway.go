package gateway

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/payment/domain"
	"github.com/sakashimaa/order-saga/pkg/breaker"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/saga"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type PaymentGateway interface {
	Capture(ctx context.Context, charge domain.Charge) saga.Outcome[domain.Receipt]
}

// SimulatedGateway stands in for a card processor. It declines charges above
// a configured amount or for configured members and remembers every answer by
// idempotency key.
type SimulatedGateway struct {
	mu              sync.Mutex
	declineAbove    int64
	declinedMembers []int64
	latency         time.Duration
	answers         map[string]saga.Outcome[domain.Receipt]
}

func NewSimulatedGateway(cfg config.Payment) *SimulatedGateway {
	return &SimulatedGateway{
		declineAbove:    cfg.DeclineAbove,
		declinedMembers: slices.Clone(cfg.DeclinedMembers),
		latency:         cfg.Latency,
		answers:         map[string]saga.Outcome[domain.Receipt]{},
	}
}

func (g *SimulatedGateway) Capture(ctx context.Context, charge domain.Charge) saga.Outcome[domain.Receipt] {
	if g.latency > 0 {
		select {
		case <-ctx.Done():
			return saga.Fail[domain.Receipt](saga.Transient(ctx.Err()))
		case <-time.After(g.latency):
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if answer, ok := g.answers[charge.IdempotencyKey]; ok {
		return answer
	}

	var answer saga.Outcome[domain.Receipt]
	switch {
	case charge.Amount <= 0:
		answer = saga.Reject[domain.Receipt]("invalid amount")
	case g.declineAbove > 0 && charge.Amount > g.declineAbove:
		answer = saga.Reject[domain.Receipt](fmt.Sprintf("amount %d exceeds limit", charge.Amount))
	case slices.Contains(g.declinedMembers, charge.MemberID):
		answer = saga.Reject[domain.Receipt]("card declined")
	default:
		answer = saga.Succeed(domain.Receipt{
			PaymentID:  uuid.NewString(),
			Amount:     charge.Amount,
			CapturedAt: time.Now().UTC(),
		})
	}

	g.answers[charge.IdempotencyKey] = answer
	return answer
}

type breakerGateway struct {
	next PaymentGateway
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker trips on gateway faults only; declines are answers.
func WithBreaker(next PaymentGateway, cfg config.Breaker, logger *zap.Logger) PaymentGateway {
	return &breakerGateway{
		next: next,
		cb:   breaker.New("payment-gateway", cfg, logger),
	}
}

func (g *breakerGateway) Capture(ctx context.Context, charge domain.Charge) saga.Outcome[domain.Receipt] {
	outcome, err := breaker.Execute(g.cb, func() (saga.Outcome[domain.Receipt], error) {
		outcome := g.next.Capture(ctx, charge)
		if failed, ok := outcome.(saga.Failed[domain.Receipt]); ok {
			return outcome, failed.Cause
		}
		return outcome, nil
	})
	if err != nil {
		return saga.Fail[domain.Receipt](err)
	}
	return outcome
}
