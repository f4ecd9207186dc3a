package idempotency

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/orders/internal/cache"
)

const keyPrefix = "idempotency:"

// Guard answers "has this key been handled" with TTL-bounded memory
type Guard interface {
	// CheckAndMark atomically marks a key, returning true only for the
	// first caller within the TTL window. Subsequent callers get false
	// and must skip processing.
	CheckAndMark(ctx context.Context, key string) (bool, error)

	// Reset removes a key so the message can be reprocessed
	Reset(ctx context.Context, key string) error
}

// RedisGuard implements Guard on a single atomic set-if-absent per check.
// A separate read-then-write pair would race under concurrent redelivery.
type RedisGuard struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewRedisGuard creates a guard with the given marker TTL. The TTL must
// exceed the longest plausible reprocessing or rebalance window.
func NewRedisGuard(c cache.Cache, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{cache: c, ttl: ttl}
}

// CheckAndMark atomically marks a key within the TTL window
func (g *RedisGuard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	first, err := g.cache.SetIfAbsent(ctx, keyPrefix+key, "processed", g.ttl)
	if err != nil {
		return false, err
	}
	if !first {
		log.Debug().Str("key", key).Msg("Duplicate delivery detected")
	}
	return first, nil
}

// Reset removes a key so the message can be reprocessed
func (g *RedisGuard) Reset(ctx context.Context, key string) error {
	return g.cache.Delete(ctx, keyPrefix+key)
}
