// Package ephemeral provides the TTL-capable key/value store backing
// presence records, typing markers and rate-limit counters. Records expire
// on their own; expiry is the cleanup mechanism.
package ephemeral

import (
	"context"
	"time"
)

type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetEx stores value under key with the given TTL, replacing any
	// previous value and re-arming its expiry.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Incr atomically increments the counter at key, arming the TTL when
	// the counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
