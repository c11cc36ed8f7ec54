package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// MarkProcessed records that service handled eventID. It returns false when the event
// was already seen.
func MarkProcessed(ctx context.Context, rdb *redis.Client, service, eventID string) (bool, error) {
	return rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
}

// Forget undoes MarkProcessed so a failed event can be handled again on redelivery.
func Forget(ctx context.Context, rdb *redis.Client, service, eventID string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}
