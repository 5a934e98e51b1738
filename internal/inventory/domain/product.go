package domain

import "time"

type Product struct {
	ID            int64      `db:"id"`
	Name          string     `db:"name"`
	SellerID      int64      `db:"seller_id"`
	Price         int64      `db:"price"`
	StockQuantity int64      `db:"stock_quantity"`
	IsActive      bool       `db:"is_active"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	DeletedAt     *time.Time `db:"deleted_at" json:"-"`
}

// Available reports whether the product can be sold at all. It says nothing
// about quantity; see CanReserve.
func (p *Product) Available() bool {
	return p.IsActive && p.DeletedAt == nil && p.StockQuantity > 0
}

func (p *Product) CanReserve(quantity int64) bool {
	return p.IsActive && p.DeletedAt == nil && p.StockQuantity >= quantity
}

type Reservation struct {
	OrderID    string     `db:"order_id"`
	ProductID  int64      `db:"product_id"`
	Quantity   int64      `db:"quantity"`
	CreatedAt  time.Time  `db:"created_at"`
	ReleasedAt *time.Time `db:"released_at"`
}
