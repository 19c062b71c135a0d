// Package ratelimit provides a fixed-window rate limiter backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/p402-io/p402/internal/cache"
)

const keyPrefix = "ratelimit:"

// Info describes the state of a rate limit window for one key.
type Info struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, Info, error)
}

// RedisLimiter is a fixed-window limiter: the first request in a window
// creates a counter with the window's TTL, subsequent requests increment
// it until the limit is hit.
type RedisLimiter struct {
	cache  *cache.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(cache *cache.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{cache: cache, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, Info, error) {
	redisKey := keyPrefix + key

	count, err := l.cache.Incr(ctx, redisKey)
	if err != nil {
		return false, Info{}, fmt.Errorf("increment counter: %w", err)
	}
	if count == 1 {
		if err := l.cache.Expire(ctx, redisKey, l.window); err != nil {
			return false, Info{}, fmt.Errorf("set window ttl: %w", err)
		}
	}

	ttl, err := l.cache.TTL(ctx, redisKey)
	if err != nil {
		return false, Info{}, fmt.Errorf("window ttl: %w", err)
	}
	if ttl < 0 {
		ttl = l.window
	}

	info := Info{
		Limit:     l.limit,
		Remaining: l.limit - int(count),
		Reset:     time.Now().Add(ttl),
	}
	if info.Remaining < 0 {
		info.Remaining = 0
	}

	return count <= int64(l.limit), info, nil
}
