package memstore

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

func seed() *Store {
	return New(
		orders.Product{ID: "a", SKU: "B-1", CategoryID: "x", Price: decimal.NewFromInt(3), StockQuantity: 4, IsActive: true},
		orders.Product{ID: "b", SKU: "A-1", CategoryID: "y", Price: decimal.NewFromInt(7), StockQuantity: 1, IsActive: true},
	)
}

func TestReserveAndRelease(t *testing.T) {
	s := seed()
	ctx := context.Background()

	ok, left, err := s.ReserveStock(ctx, "a", 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, left)

	ok, left, err = s.ReserveStock(ctx, "a", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, left)

	require.NoError(t, s.ReleaseStock(ctx, "a", 3))
	n, _ := s.Stock("a")
	assert.Equal(t, 4, n)

	_, _, err = s.ReserveStock(ctx, "zzz", 1)
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.ErrorIs(t, s.ReleaseStock(ctx, "zzz", 1), orders.ErrNotFound)
}

func TestListProductsFilterAndOrder(t *testing.T) {
	s := seed()

	all, err := s.ListProducts(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)

	ys, err := s.ListProducts(context.Background(), "y")
	require.NoError(t, err)
	require.Len(t, ys, 1)
	assert.Equal(t, "b", ys[0].ID)
}

func TestOrderCompareAndSet(t *testing.T) {
	s := seed()
	ctx := context.Background()

	id, err := s.CreateOrder(ctx, &orders.Order{
		CustomerID: "c",
		Status:     orders.StatusPending,
		Items:      []orders.OrderItem{{ProductID: "a", Quantity: 2}},
	})
	require.NoError(t, err)

	err = s.UpdateOrderStatus(ctx, id, orders.StatusConfirmed, orders.StatusShipped, nil)
	assert.ErrorIs(t, err, orders.ErrConflict)

	release := []orders.StockLine{{ProductID: "a", Quantity: 2}}
	require.NoError(t, s.UpdateOrderStatus(ctx, id, orders.StatusPending, orders.StatusCancelled, release))
	n, _ := s.Stock("a")
	assert.Equal(t, 6, n)

	assert.ErrorIs(t, s.UpdateOrderStatus(ctx, id, orders.StatusPending, orders.StatusCancelled, release), orders.ErrConflict)
	n, _ = s.Stock("a")
	assert.Equal(t, 6, n)

	assert.ErrorIs(t, s.UpdateOrderStatus(ctx, "nope", orders.StatusPending, orders.StatusCancelled, nil), orders.ErrNotFound)
}

func TestLoadOrderReturnsCopy(t *testing.T) {
	s := seed()
	ctx := context.Background()
	id, err := s.CreateOrder(ctx, &orders.Order{Status: orders.StatusPending, Items: []orders.OrderItem{{ProductID: "a", Quantity: 1}}})
	require.NoError(t, err)

	o, err := s.LoadOrder(ctx, id)
	require.NoError(t, err)
	o.Items[0].Quantity = 99
	o.Status = orders.StatusDelivered

	again, err := s.LoadOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
	assert.Equal(t, orders.StatusPending, again.Status)

	_, err = s.CreateOrder(ctx, &orders.Order{ID: id})
	assert.ErrorIs(t, err, orders.ErrConflict)
}

func TestListOrdersPaging(t *testing.T) {
	s := seed()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		st := orders.StatusPending
		if i%2 == 0 {
			st = orders.StatusConfirmed
		}
		_, err := s.CreateOrder(ctx, &orders.Order{
			CustomerID: "c",
			Status:     st,
			OrderDate:  base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	list, total, err := s.ListOrders(ctx, orders.OrderFilter{Page: 0, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, list, 2)
	assert.True(t, list[0].OrderDate.After(list[1].OrderDate))
	assert.Equal(t, base.Add(4*time.Hour), list[0].OrderDate)

	list, total, err = s.ListOrders(ctx, orders.OrderFilter{Status: orders.StatusConfirmed, Page: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, list, 1)

	list, _, err = s.ListOrders(ctx, orders.OrderFilter{Page: 9, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, total, err = s.ListOrders(ctx, orders.OrderFilter{Page: math.MaxInt / 5, Size: 10})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 5, total)

	list, _, err = s.ListOrders(ctx, orders.OrderFilter{Page: 2, Size: 2})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCancelledContext(t *testing.T) {
	s := seed()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.LoadProduct(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
	_, _, err = s.ReserveStock(ctx, "a", 1)
	assert.ErrorIs(t, err, context.Canceled)
	n, _ := s.Stock("a")
	assert.Equal(t, 4, n)
}

func TestDemoCatalogIsOrderable(t *testing.T) {
	s := New(DemoProducts()...)
	ctx := context.Background()

	all, err := s.ListProducts(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, all)

	svc := &orders.Service{Store: s}
	o, err := svc.CreateOrder(ctx, orders.CreateOrderRequest{
		CustomerID:      "demo",
		Items:           []orders.LineRequest{{ProductID: "prod-mug", Quantity: 2}},
		ShippingAddress: "Jl. Sudirman 5",
	})
	require.NoError(t, err)
	assert.Equal(t, "90000.00", o.TotalAmount.StringFixed(2))

	_, err = svc.CreateOrder(ctx, orders.CreateOrderRequest{
		CustomerID:      "demo",
		Items:           []orders.LineRequest{{ProductID: "prod-radio", Quantity: 1}},
		ShippingAddress: "Jl. Sudirman 5",
	})
	assert.ErrorIs(t, err, orders.ErrInactive)
}
