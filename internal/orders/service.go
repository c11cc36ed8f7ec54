package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultStoreTimeout = 3 * time.Second
	defaultPageSize     = 10
	maxPageSize         = 100
	// maxPage keeps Page*Size inside int32, the range SQL OFFSET accepts everywhere.
	maxPage             = math.MaxInt32 / maxPageSize
)

// Service places orders and drives them through the status machine.
type Service struct {
	Store        Store
	Publisher    Publisher // optional
	Log          *zap.Logger
	ServiceName  string
	StoreTimeout time.Duration
	// ReserveRetries bounds retries of a contended stock reservation or status write.
	ReserveRetries int
	Now            func() time.Time
}

type ctxKey int

const ctxKeyTraceID ctxKey = iota

// WithTraceID attaches a request/trace id that is copied into published events.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, id)
}

func traceID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyTraceID).(string)
	return v
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.StoreTimeout
	if d <= 0 {
		d = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (s *Service) catalog() *Catalog {
	d := s.StoreTimeout
	if d <= 0 {
		d = defaultStoreTimeout
	}
	return &Catalog{Products: s.Store, Timeout: d}
}

// CreateOrder turns a cart submission into a persisted PENDING order. Either every line
// is reserved and the order is written, or nothing changes.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	lines := RequestLines(req)
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}

	snaps, err := s.catalog().Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}

	draft, err := Price(req, snaps, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.reserveAll(ctx, lines); err != nil {
		s.log().Info("order rejected",
			zap.String("customer_id", draft.CustomerID),
			zap.Error(err),
		)
		return nil, err
	}

	draft.ID = uuid.NewString()
	callCtx, cancel := s.storeCtx(ctx)
	id, err := s.Store.CreateOrder(callCtx, draft)
	cancel()
	if err != nil {
		s.releaseAll(ctx, lines)
		s.log().Error("failed to persist order", zap.String("customer_id", draft.CustomerID), zap.Error(err))
		return nil, fmt.Errorf("create order: %w", unavailable(err))
	}
	draft.ID = id

	s.publish(ctx, TopicOrderCreated, EventOrderCreated, draft.ID, orderCreatedPayload(draft))
	s.log().Info("order created",
		zap.String("order_id", draft.ID),
		zap.String("customer_id", draft.CustomerID),
		zap.String("total_amount", draft.TotalAmount.StringFixed(2)),
		zap.Int("items", len(draft.Items)),
	)
	return draft, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	callCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	o, err := s.Store.LoadOrder(callCtx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load order %s: %w", id, unavailable(err))
	}
	return o, nil
}

// UpdateStatus applies one edge of the status machine. Cancelling restores the stock the
// order reserved, in the same store write as the status change.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, &ValidationError{Field: "newStatus", Reason: "unknown status"}
	}

	var (
		updated *Order
		from    Status
	)
	op := func() error {
		o, err := s.GetOrder(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !CanTransition(o.Status, to) {
			return backoff.Permanent(&TransitionError{From: o.Status, To: to})
		}

		var release []StockLine
		if to == StatusCancelled {
			release = o.StockLines()
		}

		callCtx, cancel := s.storeCtx(ctx)
		defer cancel()
		if err := s.Store.UpdateOrderStatus(callCtx, id, o.Status, to, release); err != nil {
			if errors.Is(err, ErrConflict) {
				return err
			}
			if errors.Is(err, ErrNotFound) {
				return backoff.Permanent(fmt.Errorf("order %s: %w", id, ErrNotFound))
			}
			return backoff.Permanent(fmt.Errorf("update order %s: %w", id, unavailable(err)))
		}
		from = o.Status
		o.Status = to
		o.UpdatedAt = s.now()
		updated = o
		return nil
	}

	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("order %s is being modified concurrently: %w", id, ErrUnavailable)
		}
		return nil, err
	}

	s.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, id,
		OrderStatusChangedPayload{OrderID: id, From: from, To: to})
	s.log().Info("order status updated",
		zap.String("order_id", id),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	return updated, nil
}

func (s *Service) ListOrders(ctx context.Context, f OrderFilter) (OrderPage, error) {
	if f.Page < 0 {
		f.Page = 0
	}
	if f.Page > maxPage {
		return OrderPage{}, &ValidationError{Field: "page", Reason: fmt.Sprintf("must not exceed %d", maxPage)}
	}
	switch {
	case f.Size <= 0:
		f.Size = defaultPageSize
	case f.Size > maxPageSize:
		f.Size = maxPageSize
	}

	callCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	list, total, err := s.Store.ListOrders(callCtx, f)
	if err != nil {
		return OrderPage{}, fmt.Errorf("list orders: %w", unavailable(err))
	}
	return OrderPage{Orders: list, Page: f.Page, Size: f.Size, Total: total}, nil
}

func (s *Service) ListProducts(ctx context.Context, categoryID string) ([]Product, error) {
	callCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	ps, err := s.Store.ListProducts(callCtx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", unavailable(err))
	}
	return ps, nil
}

func (s *Service) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.Publisher == nil {
		return
	}
	ev, err := newEnvelope(eventType, s.ServiceName, traceID(ctx), orderID, payload)
	if err != nil {
		s.log().Error("failed to build event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := s.Publisher.Publish(ctx, topic, PartitionKey(orderID), ev); err != nil {
		s.log().Warn("failed to publish event",
			zap.String("event_type", eventType),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}
