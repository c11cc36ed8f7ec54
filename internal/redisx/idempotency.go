package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "-"

// ErrInFlight means another request holding the same idempotency key has not finished yet.
var ErrInFlight = errors.New("request with this idempotency key is still in progress")

// Idempotency remembers which order a client-supplied key produced.
type Idempotency struct{ R *redis.Client }

// Claim takes ownership of key. It returns claimed=true when the caller should go ahead
// and create the order, or the id of the order an earlier request already created.
func (i *Idempotency) Claim(ctx context.Context, key string) (orderID string, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, key)
	ok, err := i.R.SetNX(ctx, k, pendingMarker, TTLIdemClaim).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	v, err := i.R.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil), err == nil && v == pendingMarker:
		return "", false, ErrInFlight
	case err != nil:
		return "", false, err
	}
	return v, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, key, orderID string) error {
	return i.R.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), orderID, TTLIdempotency).Err()
}

// Release drops an unfinished claim so the client can retry with the same key.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.R.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Err()
}
