package service

import (
	"context"
	"time"

	"codearena/internal/common/cache"
	pkgerrors "codearena/pkg/errors"
)

// RateLimitService enforces fixed-window limits using Redis counters.
type RateLimitService struct {
	cache        cache.BasicOps
	window       time.Duration
	redisTimeout time.Duration
}

func NewRateLimitService(cacheClient cache.BasicOps, window, redisTimeout time.Duration) *RateLimitService {
	if redisTimeout <= 0 {
		redisTimeout = time.Second
	}
	return &RateLimitService{cache: cacheClient, window: window, redisTimeout: redisTimeout}
}

// Allow counts one hit on key. The window starts with the first hit.
func (s *RateLimitService) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if max <= 0 {
		return nil
	}
	if s.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if window <= 0 {
		window = s.window
	}

	ctxCache, cancel := context.WithTimeout(ctx, s.redisTimeout)
	defer cancel()

	count, err := s.cache.Incr(ctxCache, key)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	if count == 1 {
		if err := s.cache.Expire(ctxCache, key, window); err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
	} else if ttl, err := s.cache.TTL(ctxCache, key); err == nil && ttl < 0 {
		_ = s.cache.Expire(ctxCache, key, window)
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).
			WithMessage("Too many requests, slow down").
			WithDetail("limit", max).
			WithDetail("window", window.String())
	}
	return nil
}
