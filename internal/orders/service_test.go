package orders_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/storefront-orders/internal/memstore"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// hookStore wraps the memory store with fault injection.
type hookStore struct {
	*memstore.Store

	mu              sync.Mutex
	reserveConflict map[string]int
	statusConflict  int
	beforeReserve   func(productID string)
	createErr       error
	blockLoads      bool
}

func (s *hookStore) ReserveStock(ctx context.Context, id string, qty int) (bool, int, error) {
	s.mu.Lock()
	hook := s.beforeReserve
	if s.reserveConflict[id] > 0 {
		s.reserveConflict[id]--
		s.mu.Unlock()
		return false, 0, orders.ErrConflict
	}
	s.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	return s.Store.ReserveStock(ctx, id, qty)
}

func (s *hookStore) UpdateOrderStatus(ctx context.Context, id string, from, to orders.Status, release []orders.StockLine) error {
	s.mu.Lock()
	if s.statusConflict > 0 {
		s.statusConflict--
		s.mu.Unlock()
		return orders.ErrConflict
	}
	s.mu.Unlock()
	return s.Store.UpdateOrderStatus(ctx, id, from, to, release)
}

func (s *hookStore) CreateOrder(ctx context.Context, o *orders.Order) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.Store.CreateOrder(ctx, o)
}

func (s *hookStore) LoadProduct(ctx context.Context, id string) (orders.Product, error) {
	if s.blockLoads {
		<-ctx.Done()
		return orders.Product{}, ctx.Err()
	}
	return s.Store.LoadProduct(ctx, id)
}

type published struct {
	topic string
	key   string
	ev    orders.Envelope
}

type recorder struct {
	mu  sync.Mutex
	out []published
	err error
}

func (r *recorder) Publish(_ context.Context, topic string, key []byte, ev orders.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.out = append(r.out, published{topic: topic, key: string(key), ev: ev})
	return nil
}

func product(id string, price string, stock int) orders.Product {
	return orders.Product{ID: id, SKU: "SKU-" + id, Name: "Product " + id, Price: decimal.RequireFromString(price), StockQuantity: stock, IsActive: true}
}

func newService(products ...orders.Product) (*orders.Service, *hookStore, *recorder) {
	st := &hookStore{Store: memstore.New(products...), reserveConflict: map[string]int{}}
	pub := &recorder{}
	return &orders.Service{Store: st, Publisher: pub, ServiceName: "order-api", StoreTimeout: time.Second}, st, pub
}

func req(lines ...orders.LineRequest) orders.CreateOrderRequest {
	return orders.CreateOrderRequest{CustomerID: "cust-1", Items: lines, ShippingAddress: "Jl. Braga 10"}
}

func stock(t *testing.T, s *hookStore, id string) int {
	t.Helper()
	n, ok := s.Stock(id)
	require.True(t, ok)
	return n
}

func TestCreateOrderReservesAndPublishes(t *testing.T) {
	svc, st, pub := newService(product("p1", "10.00", 5), product("p2", "2.25", 4))
	ctx := orders.WithTraceID(context.Background(), "req-1")

	o, err := svc.CreateOrder(ctx, req(
		orders.LineRequest{ProductID: "p1", Quantity: 2},
		orders.LineRequest{ProductID: "p2", Quantity: 4},
	))
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, "29.00", o.TotalAmount.StringFixed(2))
	assert.Equal(t, 3, stock(t, st, "p1"))
	assert.Equal(t, 0, stock(t, st, "p2"))

	saved, err := svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Len(t, saved.Items, 2)

	require.Len(t, pub.out, 1)
	assert.Equal(t, orders.TopicOrderCreated, pub.out[0].topic)
	assert.Equal(t, o.ID, pub.out[0].key)
	assert.Equal(t, orders.EventOrderCreated, pub.out[0].ev.EventType)
	assert.Equal(t, "req-1", pub.out[0].ev.TraceID)
	assert.Equal(t, "order-api", pub.out[0].ev.Producer)
}

func TestCreateOrderTwoBuyersOneUnitLeft(t *testing.T) {
	svc, st, _ := newService(product("p1", "99.00", 5))

	var (
		wg       sync.WaitGroup
		ok, fail atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(context.Background(), req(orders.LineRequest{ProductID: "p1", Quantity: 5}))
			if err == nil {
				ok.Add(1)
				return
			}
			if errors.Is(err, orders.ErrInsufficientStock) {
				fail.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), fail.Load())
	assert.Equal(t, 0, stock(t, st, "p1"))
}

func TestCreateOrderNeverOversells(t *testing.T) {
	svc, st, _ := newService(product("p1", "1.00", 10))

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CreateOrder(context.Background(), req(orders.LineRequest{ProductID: "p1", Quantity: 1})); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, 0, stock(t, st, "p1"))

	page, err := svc.ListOrders(context.Background(), orders.OrderFilter{Size: 100})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Total)
}

func TestCreateOrderRollsBackPartialReservation(t *testing.T) {
	svc, st, pub := newService(product("p1", "5.00", 5), product("p2", "5.00", 5))
	// p2 is drained by someone else between the lookup and the reservation
	st.beforeReserve = func(id string) {
		if id == "p2" {
			st.Put(product("p2", "5.00", 1))
		}
	}

	_, err := svc.CreateOrder(context.Background(), req(
		orders.LineRequest{ProductID: "p1", Quantity: 2},
		orders.LineRequest{ProductID: "p2", Quantity: 3},
	))

	var se *orders.StockError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "p2", se.ProductID)
	assert.Equal(t, 2, se.Shortfall())
	assert.Equal(t, 5, stock(t, st, "p1"))
	assert.Equal(t, 1, stock(t, st, "p2"))
	assert.Empty(t, pub.out)
}

func TestCreateOrderRetriesConflicts(t *testing.T) {
	svc, st, _ := newService(product("p1", "5.00", 5))
	st.reserveConflict["p1"] = 2

	_, err := svc.CreateOrder(context.Background(), req(orders.LineRequest{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, 4, stock(t, st, "p1"))
}

func TestCreateOrderGivesUpOnPersistentConflict(t *testing.T) {
	svc, st, _ := newService(product("p1", "5.00", 5))
	svc.ReserveRetries = 2
	st.reserveConflict["p1"] = 100

	_, err := svc.CreateOrder(context.Background(), req(orders.LineRequest{ProductID: "p1", Quantity: 1}))
	var se *orders.StockError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, 5, se.Available)
	assert.Equal(t, 5, stock(t, st, "p1"))
}

func TestCreateOrderStoreFailureReleasesStock(t *testing.T) {
	svc, st, pub := newService(product("p1", "5.00", 5))
	st.createErr = context.DeadlineExceeded

	_, err := svc.CreateOrder(context.Background(), req(orders.LineRequest{ProductID: "p1", Quantity: 3}))
	assert.ErrorIs(t, err, orders.ErrUnavailable)
	assert.Equal(t, 5, stock(t, st, "p1"))
	assert.Empty(t, pub.out)
}

func TestCreateOrderSlowStoreIsUnavailable(t *testing.T) {
	svc, st, _ := newService(product("p1", "5.00", 5))
	svc.StoreTimeout = 20 * time.Millisecond
	st.blockLoads = true

	_, err := svc.CreateOrder(context.Background(), req(orders.LineRequest{ProductID: "p1", Quantity: 1}))
	assert.ErrorIs(t, err, orders.ErrUnavailable)
}

func TestCreateOrderSucceedsWhenPublishFails(t *testing.T) {
	svc, _, pub := newService(product("p1", "5.00", 5))
	pub.err = errors.New("broker down")

	_, err := svc.CreateOrder(context.Background(), req(orders.LineRequest{ProductID: "p1", Quantity: 1}))
	assert.NoError(t, err)
}

func TestCancelRestoresStock(t *testing.T) {
	for _, via := range []orders.Status{orders.StatusPending, orders.StatusConfirmed} {
		t.Run(via.String(), func(t *testing.T) {
			svc, st, pub := newService(product("p1", "5.00", 5), product("p2", "1.00", 3))
			ctx := context.Background()

			o, err := svc.CreateOrder(ctx, req(
				orders.LineRequest{ProductID: "p1", Quantity: 2},
				orders.LineRequest{ProductID: "p2", Quantity: 1},
				orders.LineRequest{ProductID: "p1", Quantity: 1},
			))
			require.NoError(t, err)
			assert.Equal(t, 2, stock(t, st, "p1"))

			if via == orders.StatusConfirmed {
				_, err = svc.UpdateStatus(ctx, o.ID, orders.StatusConfirmed)
				require.NoError(t, err)
			}
			got, err := svc.UpdateStatus(ctx, o.ID, orders.StatusCancelled)
			require.NoError(t, err)
			assert.Equal(t, orders.StatusCancelled, got.Status)
			assert.Equal(t, 5, stock(t, st, "p1"))
			assert.Equal(t, 3, stock(t, st, "p2"))

			last := pub.out[len(pub.out)-1]
			assert.Equal(t, orders.TopicOrderStatusChanged, last.topic)
			assert.Equal(t, orders.EventOrderStatusChanged, last.ev.EventType)
		})
	}
}

func TestUpdateStatusRejectsIllegalEdges(t *testing.T) {
	svc, st, _ := newService(product("p1", "5.00", 5))
	ctx := context.Background()
	o, err := svc.CreateOrder(ctx, req(orders.LineRequest{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, o.ID, orders.StatusShipped)
	var te *orders.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, orders.StatusPending, te.From)

	_, err = svc.UpdateStatus(ctx, o.ID, orders.StatusCancelled)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, o.ID, orders.StatusShipped)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	_, err = svc.UpdateStatus(ctx, o.ID, orders.StatusCancelled)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)

	// cancelling twice must not restore stock twice
	assert.Equal(t, 5, stock(t, st, "p1"))
}

func TestUpdateStatusHappyPath(t *testing.T) {
	svc, st, _ := newService(product("p1", "5.00", 5))
	ctx := context.Background()
	o, err := svc.CreateOrder(ctx, req(orders.LineRequest{ProductID: "p1", Quantity: 2}))
	require.NoError(t, err)

	for _, to := range []orders.Status{orders.StatusConfirmed, orders.StatusShipped, orders.StatusDelivered} {
		got, err := svc.UpdateStatus(ctx, o.ID, to)
		require.NoError(t, err)
		assert.Equal(t, to, got.Status)
	}
	assert.Equal(t, 3, stock(t, st, "p1"))

	_, err = svc.UpdateStatus(ctx, o.ID, orders.StatusCancelled)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestUpdateStatusRetriesLostRace(t *testing.T) {
	svc, st, _ := newService(product("p1", "5.00", 5))
	ctx := context.Background()
	o, err := svc.CreateOrder(ctx, req(orders.LineRequest{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	st.statusConflict = 2
	got, err := svc.UpdateStatus(ctx, o.ID, orders.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)

	st.statusConflict = 100
	_, err = svc.UpdateStatus(ctx, o.ID, orders.StatusShipped)
	assert.ErrorIs(t, err, orders.ErrUnavailable)
}

func TestUpdateStatusUnknownOrderAndStatus(t *testing.T) {
	svc, _, _ := newService()

	_, err := svc.UpdateStatus(context.Background(), "nope", orders.StatusConfirmed)
	assert.ErrorIs(t, err, orders.ErrNotFound)

	_, err = svc.UpdateStatus(context.Background(), "nope", orders.StatusUnknown)
	assert.ErrorIs(t, err, orders.ErrValidation)
}

func TestConcurrentCancelReleasesOnce(t *testing.T) {
	svc, st, _ := newService(product("p1", "5.00", 5))
	ctx := context.Background()
	o, err := svc.CreateOrder(ctx, req(orders.LineRequest{ProductID: "p1", Quantity: 4}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.UpdateStatus(ctx, o.ID, orders.StatusCancelled)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, stock(t, st, "p1"))
}

func TestCreateOrderRejectsInactiveAndMissing(t *testing.T) {
	off := product("p2", "1.00", 9)
	off.IsActive = false
	svc, st, _ := newService(product("p1", "5.00", 5), off)

	_, err := svc.CreateOrder(context.Background(), req(
		orders.LineRequest{ProductID: "p1", Quantity: 1},
		orders.LineRequest{ProductID: "p2", Quantity: 1},
	))
	assert.ErrorIs(t, err, orders.ErrInactive)

	_, err = svc.CreateOrder(context.Background(), req(orders.LineRequest{ProductID: "ghost", Quantity: 1}))
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.Equal(t, 5, stock(t, st, "p1"))
}

func TestListOrdersClampsPaging(t *testing.T) {
	svc, _, _ := newService(product("p1", "1.00", 50))
	for i := 0; i < 12; i++ {
		_, err := svc.CreateOrder(context.Background(), req(orders.LineRequest{ProductID: "p1", Quantity: 1}))
		require.NoError(t, err)
	}

	page, err := svc.ListOrders(context.Background(), orders.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Size)
	assert.Len(t, page.Orders, 10)
	assert.Equal(t, 12, page.Total)

	page, err = svc.ListOrders(context.Background(), orders.OrderFilter{Page: 1, Size: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, page.Size)
	assert.Empty(t, page.Orders)

	page, err = svc.ListOrders(context.Background(), orders.OrderFilter{CustomerID: "someone-else"})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestCreateOrderRejectsQuantitiesThatWouldWrap(t *testing.T) {
	svc, st, pub := newService(product("p1", "5.00", 5))

	_, err := svc.CreateOrder(context.Background(), req(
		orders.LineRequest{ProductID: "p1", Quantity: math.MaxInt},
		orders.LineRequest{ProductID: "p1", Quantity: math.MaxInt},
	))
	assert.ErrorIs(t, err, orders.ErrValidation)
	assert.Equal(t, 5, stock(t, st, "p1"))
	assert.Empty(t, pub.out)

	page, err := svc.ListOrders(context.Background(), orders.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestListOrdersRejectsHugePage(t *testing.T) {
	svc, _, _ := newService(product("p1", "1.00", 5))
	_, err := svc.CreateOrder(context.Background(), req(orders.LineRequest{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	_, err = svc.ListOrders(context.Background(), orders.OrderFilter{Page: math.MaxInt / 5, Size: 10})
	var ve *orders.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, "page", ve.Field)

	page, err := svc.ListOrders(context.Background(), orders.OrderFilter{Page: math.MaxInt32 / 100, Size: 100})
	require.NoError(t, err)
	assert.Empty(t, page.Orders)
	assert.Equal(t, 1, page.Total)
}
