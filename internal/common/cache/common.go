package cache

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"time"
)

// NullCacheValue marks a cached miss so repeated lookups of absent rows stay off the database.
const NullCacheValue = "$NULL$"

// Loader fetches the authoritative value on a cache miss.
// found=false means the record does not exist.
type Loader[T any] func(ctx context.Context) (value T, found bool, err error)

// GetJSONCached implements cache-aside with JSON encoding and null value caching.
// Cache read and write failures degrade to the loader; only loader errors are returned.
func GetJSONCached[T any](
	ctx context.Context,
	c BasicOps,
	key string,
	ttl time.Duration,
	emptyTTL time.Duration,
	load Loader[T],
) (T, bool, error) {
	var zero T

	if cached, err := c.Get(ctx, key); err == nil && cached != "" {
		if cached == NullCacheValue {
			return zero, false, nil
		}
		var out T
		if err := json.Unmarshal([]byte(cached), &out); err == nil {
			return out, true, nil
		}
	}

	value, found, err := load(ctx)
	if err != nil {
		return zero, false, err
	}
	if !found {
		_ = c.Set(ctx, key, NullCacheValue, emptyTTL)
		return zero, false, nil
	}
	if data, err := json.Marshal(value); err == nil {
		_ = c.Set(ctx, key, string(data), JitterTTL(ttl))
	}
	return value, true, nil
}

// UpdateCached runs the write and then drops the cached copy.
func UpdateCached(ctx context.Context, c BasicOps, key string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	_ = c.Del(ctx, key)
	return nil
}

// JitterTTL shortens ttl by up to 10% so entries written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
