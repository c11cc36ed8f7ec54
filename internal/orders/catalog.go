package orders

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type ProductLoader interface {
	LoadProduct(ctx context.Context, id string) (Product, error)
}

// Catalog resolves product ids to price/stock snapshots. It never writes.
type Catalog struct {
	Products ProductLoader
	Timeout  time.Duration
}

func (c *Catalog) Lookup(ctx context.Context, ids []string) (map[string]ProductSnapshot, error) {
	out := make(map[string]ProductSnapshot, len(ids))
	for _, id := range ids {
		if _, seen := out[id]; seen {
			continue
		}
		p, err := c.load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
			}
			return nil, fmt.Errorf("load product %s: %w", id, unavailable(err))
		}
		if !p.IsActive {
			return nil, fmt.Errorf("product %s: %w", id, ErrInactive)
		}
		out[id] = p.Snapshot()
	}
	return out, nil
}

func (c *Catalog) load(ctx context.Context, id string) (Product, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	return c.Products.LoadProduct(ctx, id)
}
