package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/backstage/services/orders/config"
)

// ErrCacheMiss is returned when a key is absent or the cache is disabled
var ErrCacheMiss = errors.New("cache miss")

// Cache is the read-model cache and index store
type Cache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Score-ordered index operations
	IndexAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error
	IndexRemove(ctx context.Context, key, member string) error
	IndexRange(ctx context.Context, key string, offset, limit int64) ([]string, error)
	IndexTrim(ctx context.Context, key string, maxSize int64) error

	Close() error
}

// RedisCache provides caching using Redis
type RedisCache struct {
	client  *redis.Client
	enabled bool
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisCache{
		client:  client,
		enabled: true,
	}, nil
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, value interface{}) error {
	if !c.enabled {
		return ErrCacheMiss
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrCacheMiss
		}
		return errors.Wrap(err, "failed to get value from Redis")
	}

	if err := json.Unmarshal(data, value); err != nil {
		return errors.Wrap(err, "failed to unmarshal cached value")
	}

	return nil
}

// Set stores a value in cache with expiration
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal value for caching")
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to set value in Redis")
	}

	return nil
}

// Delete removes a key from the cache
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "failed to delete key from Redis")
	}
	return nil
}

// SetIfAbsent atomically sets a key only when it does not exist yet
func (c *RedisCache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if !c.enabled {
		return true, nil
	}

	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to set key in Redis")
	}
	return ok, nil
}

// IndexAdd adds a member to a score-ordered index
func (c *RedisCache) IndexAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}

	if err := c.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err(); err != nil {
		return errors.Wrap(err, "failed to add to index")
	}
	if ttl > 0 {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return errors.Wrap(err, "failed to expire index")
		}
	}
	return nil
}

// IndexRemove removes a member from an index
func (c *RedisCache) IndexRemove(ctx context.Context, key, member string) error {
	if !c.enabled {
		return nil
	}

	if err := c.client.ZRem(ctx, key, member).Err(); err != nil {
		return errors.Wrap(err, "failed to remove from index")
	}
	return nil
}

// IndexRange returns members of an index, newest first
func (c *RedisCache) IndexRange(ctx context.Context, key string, offset, limit int64) ([]string, error) {
	if !c.enabled {
		return nil, nil
	}

	members, err := c.client.ZRevRange(ctx, key, offset, offset+limit-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read index")
	}
	return members, nil
}

// IndexTrim evicts the oldest entries so the index never exceeds maxSize
func (c *RedisCache) IndexTrim(ctx context.Context, key string, maxSize int64) error {
	if !c.enabled {
		return nil
	}

	size, err := c.client.ZCard(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "failed to size index")
	}
	if size > maxSize {
		if err := c.client.ZRemRangeByRank(ctx, key, 0, size-maxSize-1).Err(); err != nil {
			return errors.Wrap(err, "failed to trim index")
		}
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.enabled || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ReadModelCacheKey generates a cache key for an order read model
func ReadModelCacheKey(aggregateID string) string {
	return fmt.Sprintf("order:read:%s", aggregateID)
}

// IndexCacheKey generates a cache key for a read-model index dimension
func IndexCacheKey(dimension, value string) string {
	if value == "" {
		return fmt.Sprintf("orders:%s", dimension)
	}
	return fmt.Sprintf("orders:%s:%s", dimension, value)
}
