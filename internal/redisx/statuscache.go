package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type StatusEntry struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache keeps the latest known status per order for cheap polling.
type StatusCache struct{ R *redis.Client }

const setIfNewerAttempts = 3

func (c *StatusCache) Get(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	return decodeEntry(c.R.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result())
}

func decodeEntry(s string, err error) (StatusEntry, bool, error) {
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	var e StatusEntry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return StatusEntry{}, false, fmt.Errorf("decode status entry: %w", err)
	}
	return e, true, nil
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.R.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// SetIfNewer writes e unless the cache already holds a later UpdatedAt for the order.
// The read and the write run in one WATCH transaction. It reports whether e was stored.
func (c *StatusCache) SetIfNewer(ctx context.Context, e StatusEntry) (bool, error) {
	key := fmt.Sprintf(KeyOrderStatus, e.OrderID)
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}

	for i := 0; i < setIfNewerAttempts; i++ {
		stored := false
		err = c.R.Watch(ctx, func(tx *redis.Tx) error {
			cur, found, err := decodeEntry(tx.Get(ctx, key).Result())
			if err != nil {
				return err
			}
			if found && cur.UpdatedAt.After(e.UpdatedAt) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, b, TTLStatusCache)
				return nil
			})
			stored = err == nil
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return stored, err
	}
	return false, err
}
