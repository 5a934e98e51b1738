package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewOrder_PricesLines(t *testing.T) {
	order, err := NewOrder("o-1", 7, "member@example.com", "Main st. 1", []OrderLineItem{
		{ProductID: 1, SellerID: 10, Quantity: 2, UnitPrice: 1000, DiscountValue: 300},
		{ProductID: 2, SellerID: 11, Quantity: 1, UnitPrice: 500},
	})
	require.NoError(t, err)

	require.Equal(t, OrderStatusPending, order.Status)
	require.Equal(t, int64(1700), order.Items[0].TotalPrice)
	require.Equal(t, int64(500), order.Items[1].TotalPrice)
	require.Equal(t, int64(2200), order.TotalAmount)
	require.Equal(t, order.TotalAmount, order.Payable())
	require.Equal(t, []int64{1, 2}, order.ProductIDs())
	require.Empty(t, order.Stages)
}

func TestNewOrder_Rejects(t *testing.T) {
	_, err := NewOrder("o-1", 7, "", "", nil)
	require.ErrorIs(t, err, ErrInvalidOrder)

	_, err = NewOrder("o-1", 7, "", "", []OrderLineItem{{ProductID: 1, Quantity: 0, UnitPrice: 10}})
	require.ErrorIs(t, err, ErrInvalidOrder)

	_, err = NewOrder("o-1", 7, "", "", []OrderLineItem{{ProductID: 1, Quantity: 1, UnitPrice: 10, DiscountValue: 11}})
	require.ErrorIs(t, err, ErrInvalidOrder)

	_, err = NewOrder("o-1", 7, "", "", []OrderLineItem{{ProductID: 1, Quantity: 2, UnitPrice: 10, DiscountValue: 20}})
	require.ErrorIs(t, err, ErrInvalidOrder, "fully discounted order")

	_, err = NewOrder("o-1", 7, "", "", []OrderLineItem{{ProductID: 1, Quantity: 3, UnitPrice: 0}})
	require.ErrorIs(t, err, ErrInvalidOrder, "free order")

	_, err = NewOrder("o-1", 7, "", "", []OrderLineItem{
		{ProductID: 1, Quantity: 1, UnitPrice: 100},
		{ProductID: 2, Quantity: 1, UnitPrice: -100},
	})
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestNewOrder_CopiesItems(t *testing.T) {
	items := []OrderLineItem{{ProductID: 1, SellerID: 1, Quantity: 1, UnitPrice: 10}}

	order, err := NewOrder("o-1", 7, "", "", items)
	require.NoError(t, err)

	items[0].Quantity = 99
	require.Equal(t, int64(1), order.Items[0].Quantity)
}

func TestPayable_UsesPersistedTotals(t *testing.T) {
	order := &Order{Items: []OrderLineItem{
		{Quantity: 2, UnitPrice: 100, TotalPrice: 150},
		{Quantity: 1, UnitPrice: 40, TotalPrice: 40},
	}}

	require.Equal(t, int64(190), order.Payable())
}

func TestReservedLines(t *testing.T) {
	order := &Order{Items: []OrderLineItem{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 5},
	}}

	require.Equal(t, []InventoryLineOutcome{
		{ProductID: 1, RequestedQty: 2, ReservedQty: 2, Available: true},
		{ProductID: 2, RequestedQty: 5, ReservedQty: 5, Available: true},
	}, order.ReservedLines())
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	require.False(t, OrderStatusPending.IsTerminal())
	require.False(t, OrderStatusPaid.IsTerminal())
	require.False(t, OrderStatusReady.IsTerminal())
	require.True(t, OrderStatusDone.IsTerminal())
	require.True(t, OrderStatusCancelled.IsTerminal())
	require.True(t, OrderStatusFailed.IsTerminal())
}
