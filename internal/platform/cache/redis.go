// Package cache provides the Redis-backed idempotency guard used to absorb
// duplicate dispense submissions (double-clicked forms, client retries).
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL bounds how long a submission key blocks duplicates.
const DefaultIdempotencyTTL = 10 * time.Minute

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis using a URL (redis://...). The connection is
// verified with a PING before use.
func New(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, ttl: DefaultIdempotencyTTL}, nil
}

// SetIdempotency claims the given key. It returns true when the key was not
// previously claimed within the TTL window, false when this is a duplicate.
func (r *Redis) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, "idem:"+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return ok, nil
}

// Close releases the underlying connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
