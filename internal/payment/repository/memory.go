package repository

import (
	"context"
	"sync"
	"time"

	"github.com/sakashimaa/order-saga/internal/payment/domain"
)

type MemoryPaymentRepository struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{payments: map[string]domain.Payment{}}
}

func (r *MemoryPaymentRepository) Save(_ context.Context, payment *domain.Payment) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.payments[payment.OrderID]; ok {
		return &existing, nil
	}

	payment.CreatedAt = time.Now().UTC()
	r.payments[payment.OrderID] = *payment
	return payment, nil
}

func (r *MemoryPaymentRepository) GetByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[orderID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}
