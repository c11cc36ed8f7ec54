package orders

import "context"

// Store is the persistence boundary of the order service. Implementations must make
// ReserveStock/ReleaseStock atomic per product, write an order with its items all-or-nothing,
// and apply a status change together with any stock release it carries.
type Store interface {
	LoadProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context, categoryID string) ([]Product, error)

	// ReserveStock decrements stock only if qty units are available. When they are not,
	// ok is false and available holds the stock seen at that moment.
	ReserveStock(ctx context.Context, productID string, qty int) (ok bool, available int, err error)
	ReleaseStock(ctx context.Context, productID string, qty int) error

	CreateOrder(ctx context.Context, o *Order) (string, error)
	LoadOrder(ctx context.Context, id string) (*Order, error)

	// UpdateOrderStatus moves the order to `to` only while it is still in `from`, otherwise
	// ErrConflict. release is restored to stock in the same atomic write.
	UpdateOrderStatus(ctx context.Context, id string, from, to Status, release []StockLine) error
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, int, error)
}

// Publisher ships domain events after they are committed.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, ev Envelope) error
}
