package repository

import (
	"context"
	"sync"
	"time"

	"github.com/sakashimaa/order-saga/internal/inventory/domain"
)

type reservationKey struct {
	orderID   string
	productID int64
}

// MemoryProductRepository is the in-process catalog used by the local runtime
// and tests.
type MemoryProductRepository struct {
	mu           sync.Mutex
	products     map[int64]*domain.Product
	reservations map[reservationKey]*domain.Reservation
	releases     map[int64]int
}

func NewMemoryProductRepository(products ...domain.Product) *MemoryProductRepository {
	r := &MemoryProductRepository{
		products:     map[int64]*domain.Product{},
		reservations: map[reservationKey]*domain.Reservation{},
		releases:     map[int64]int{},
	}
	for _, p := range products {
		r.Put(p)
	}
	return r
}

func (r *MemoryProductRepository) Put(p domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.products[p.ID] = &p
}

func (r *MemoryProductRepository) GetByID(_ context.Context, id int64) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	c := *p
	return &c, nil
}

func (r *MemoryProductRepository) IsAvailable(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return false, nil
	}
	return p.Available(), nil
}

func (r *MemoryProductRepository) Reserve(_ context.Context, orderID string, productID, quantity int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := reservationKey{orderID: orderID, productID: productID}
	if res, ok := r.reservations[key]; ok && res.ReleasedAt == nil {
		return nil
	}

	p, ok := r.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	if !p.CanReserve(quantity) {
		return ErrInsufficientStock
	}

	p.StockQuantity -= quantity
	r.reservations[key] = &domain.Reservation{
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (r *MemoryProductRepository) Release(_ context.Context, orderID string, productID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releases[productID]++

	res, ok := r.reservations[reservationKey{orderID: orderID, productID: productID}]
	if !ok || res.ReleasedAt != nil {
		return false, nil
	}

	p, ok := r.products[productID]
	if !ok {
		return false, ErrProductNotFound
	}

	now := time.Now().UTC()
	res.ReleasedAt = &now
	p.StockQuantity += res.Quantity
	return true, nil
}

// Releases counts Release calls for productID, effective or not.
func (r *MemoryProductRepository) Releases(productID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.releases[productID]
}

func (r *MemoryProductRepository) Reservation(orderID string, productID int64) (domain.Reservation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[reservationKey{orderID: orderID, productID: productID}]
	if !ok {
		return domain.Reservation{}, false
	}
	return *res, true
}
