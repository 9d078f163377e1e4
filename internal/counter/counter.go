// Package counter provides the shared atomic counter store backing the rate
// limiter and the abuse monitor. The one primitive that matters is
// IncrExpire: increment a key and, if this is the key's first increment,
// start its TTL, as one indivisible step. Everything built on top relies on
// N concurrent IncrExpire calls totalling exactly N.
package counter

import (
	"context"
	"time"
)

// Store is the atomic counter/window store.
type Store interface {
	// IncrExpire atomically increments key and sets its expiry to ttl if
	// the key did not exist before the increment. Returns the new count.
	IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get returns the current count for key, 0 if absent or expired.
	Get(ctx context.Context, key string) (int64, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
