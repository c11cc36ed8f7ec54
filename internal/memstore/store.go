// Package memstore is an in-process orders.Store. Each product has its own lock, so
// reservations against one product are serialized while different products proceed
// independently.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type productState struct {
	mu sync.Mutex
	p  orders.Product
}

type Store struct {
	mu       sync.RWMutex
	products map[string]*productState

	omu    sync.RWMutex
	orders map[string]*orders.Order
}

var _ orders.Store = (*Store)(nil)

func New(products ...orders.Product) *Store {
	s := &Store{
		products: make(map[string]*productState),
		orders:   make(map[string]*orders.Order),
	}
	for _, p := range products {
		s.Put(p)
	}
	return s
}

// Put inserts or replaces a product.
func (s *Store) Put(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.products[p.ID]; ok {
		st.mu.Lock()
		st.p = p
		st.mu.Unlock()
		return
	}
	s.products[p.ID] = &productState{p: p}
}

// Stock returns the current stock of a product.
func (s *Store) Stock(id string) (int, bool) {
	st, ok := s.product(id)
	if !ok {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.p.StockQuantity, true
}

func (s *Store) product(id string) (*productState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.products[id]
	return st, ok
}

func (s *Store) LoadProduct(ctx context.Context, id string) (orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return orders.Product{}, err
	}
	st, ok := s.product(id)
	if !ok {
		return orders.Product{}, orders.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.p, nil
}

func (s *Store) ListProducts(ctx context.Context, categoryID string) ([]orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]orders.Product, 0, len(s.products))
	for _, st := range s.products {
		st.mu.Lock()
		p := st.p
		st.mu.Unlock()
		if categoryID != "" && p.CategoryID != categoryID {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *Store) ReserveStock(ctx context.Context, productID string, qty int) (bool, int, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	st, ok := s.product(productID)
	if !ok {
		return false, 0, orders.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.p.StockQuantity < qty {
		return false, st.p.StockQuantity, nil
	}
	st.p.StockQuantity -= qty
	st.p.UpdatedAt = time.Now().UTC()
	return true, st.p.StockQuantity, nil
}

func (s *Store) ReleaseStock(ctx context.Context, productID string, qty int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, ok := s.product(productID)
	if !ok {
		return orders.ErrNotFound
	}
	st.mu.Lock()
	st.p.StockQuantity += qty
	st.p.UpdatedAt = time.Now().UTC()
	st.mu.Unlock()
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, o *orders.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := clone(o)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.omu.Lock()
	defer s.omu.Unlock()
	if _, exists := s.orders[c.ID]; exists {
		return "", orders.ErrConflict
	}
	s.orders[c.ID] = c
	return c.ID, nil
}

func (s *Store) LoadOrder(ctx context.Context, id string) (*orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.omu.RLock()
	defer s.omu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return clone(o), nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, to orders.Status, release []orders.StockLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.omu.Lock()
	defer s.omu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	if o.Status != from {
		return orders.ErrConflict
	}
	states := make([]*productState, 0, len(release))
	for _, l := range release {
		st, ok := s.product(l.ProductID)
		if !ok {
			return orders.ErrNotFound
		}
		states = append(states, st)
	}
	now := time.Now().UTC()
	for i, st := range states {
		st.mu.Lock()
		st.p.StockQuantity += release[i].Quantity
		st.p.UpdatedAt = now
		st.mu.Unlock()
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.omu.RLock()
	matched := make([]*orders.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != orders.StatusUnknown && o.Status != f.Status {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OrderDate.Equal(matched[j].OrderDate) {
			return matched[i].OrderDate.After(matched[j].OrderDate)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start, end := 0, total
	if f.Size > 0 {
		// Page is compared before multiplying so a huge page cannot wrap
		start = total
		if f.Page >= 0 && f.Page <= total/f.Size {
			start = f.Page * f.Size
		}
		if rest := total - start; rest > f.Size {
			end = start + f.Size
		}
	}
	out := make([]orders.Order, 0, end-start)
	for _, o := range matched[start:end] {
		out = append(out, *clone(o))
	}
	s.omu.RUnlock()
	return out, total, nil
}

func clone(o *orders.Order) *orders.Order {
	c := *o
	c.Items = append([]orders.OrderItem(nil), o.Items...)
	return &c
}
