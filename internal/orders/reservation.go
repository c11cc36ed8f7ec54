package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const defaultReserveRetries = 3

func (s *Service) retryPolicy(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     5 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         100 * time.Millisecond,
		MaxElapsedTime:      2 * time.Second,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	retries := s.ReserveRetries
	if retries <= 0 {
		retries = defaultReserveRetries
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// reserveAll reserves every line or none: on the first failure the lines already
// reserved by this call are released before the error is returned.
func (s *Service) reserveAll(ctx context.Context, lines []StockLine) error {
	reserved := make([]StockLine, 0, len(lines))
	for _, l := range lines {
		if err := s.reserveLine(ctx, l); err != nil {
			s.releaseAll(ctx, reserved)
			return err
		}
		reserved = append(reserved, l)
	}
	return nil
}

func (s *Service) reserveLine(ctx context.Context, l StockLine) error {
	op := func() error {
		callCtx, cancel := s.storeCtx(ctx)
		defer cancel()

		ok, available, err := s.Store.ReserveStock(callCtx, l.ProductID, l.Quantity)
		switch {
		case errors.Is(err, ErrConflict):
			return err
		case err != nil:
			return backoff.Permanent(err)
		case !ok:
			return backoff.Permanent(&StockError{ProductID: l.ProductID, Requested: l.Quantity, Available: available})
		}
		return nil
	}

	err := backoff.Retry(op, s.retryPolicy(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict):
		s.log().Warn("stock reservation kept conflicting",
			zap.String("product_id", l.ProductID), zap.Int("qty", l.Quantity))
		return s.contendedStock(ctx, l)
	case errors.Is(err, ErrInsufficientStock):
		return err
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("product %s: %w", l.ProductID, ErrNotFound)
	}
	return fmt.Errorf("reserve product %s: %w", l.ProductID, unavailable(err))
}

// contendedStock reports a line whose reservation never won the race as a stock error,
// using the freshest stock figure available. Shortfall is 0 when stock was there but
// the row stayed contended.
func (s *Service) contendedStock(ctx context.Context, l StockLine) error {
	callCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	available := 0
	if p, err := s.Store.LoadProduct(callCtx, l.ProductID); err == nil {
		available = p.StockQuantity
	}
	return &StockError{ProductID: l.ProductID, Requested: l.Quantity, Available: available}
}

// releaseAll puts reserved lines back. It runs on a context detached from the caller so
// a cancelled request still restores what it took.
func (s *Service) releaseAll(ctx context.Context, lines []StockLine) {
	rctx := context.WithoutCancel(ctx)
	for _, l := range lines {
		callCtx, cancel := s.storeCtx(rctx)
		err := s.Store.ReleaseStock(callCtx, l.ProductID, l.Quantity)
		cancel()
		if err != nil {
			s.log().Error("CRITICAL: stock release failed",
				zap.String("product_id", l.ProductID),
				zap.Int("qty", l.Quantity),
				zap.Error(err),
			)
		}
	}
}
