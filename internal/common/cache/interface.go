package cache

import (
	"context"
	"time"
)

// Cache is the subset of key-value operations the services rely on.
// RedisCache is the production implementation; tests run it against miniredis.
type Cache interface {
	BasicOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns the value for key, or "" with a nil error when the key does not exist
	Get(ctx context.Context, key string) (string, error)

	// Set stores value with a TTL; zero TTL means no expiration
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX stores value only when key is absent
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns -2 when the key is missing and -1 when it has no expiration
	TTL(ctx context.Context, key string) (time.Duration, error)

	Incr(ctx context.Context, key string) (int64, error)
}

// LockOps defines a best-effort distributed lock.
type LockOps interface {
	// TryLock acquires key for ttl, returning false when another holder owns it
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock releases the lock only if it is still held by this process
	Unlock(ctx context.Context, key string) error

	// ExtendLock refreshes the lock TTL
	ExtendLock(ctx context.Context, key string, ttl time.Duration) error
}
