package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryCache is a process-local Cache. It backs tests and environments
// without Redis; it ignores TTLs and shares nothing across processes.
type MemoryCache struct {
	mu      sync.RWMutex
	values  map[string][]byte
	indices map[string]map[string]float64
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		values:  make(map[string][]byte),
		indices: make(map[string]map[string]float64),
	}
}

// Get retrieves a value
func (c *MemoryCache) Get(ctx context.Context, key string, value interface{}) error {
	c.mu.RLock()
	data, ok := c.values[key]
	c.mu.RUnlock()
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(data, value)
}

// Set stores a value
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.values[key] = data
	c.mu.Unlock()
	return nil
}

// Delete removes a key
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
	return nil
}

// SetIfAbsent atomically sets a key only when it does not exist yet
func (c *MemoryCache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = []byte(value)
	return true, nil
}

// IndexAdd adds a member to a score-ordered index
func (c *MemoryCache) IndexAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indices[key]
	if !ok {
		idx = make(map[string]float64)
		c.indices[key] = idx
	}
	idx[member] = score
	return nil
}

// IndexRemove removes a member from an index
func (c *MemoryCache) IndexRemove(ctx context.Context, key, member string) error {
	c.mu.Lock()
	delete(c.indices[key], member)
	c.mu.Unlock()
	return nil
}

// IndexRange returns members of an index, newest first
func (c *MemoryCache) IndexRange(ctx context.Context, key string, offset, limit int64) ([]string, error) {
	c.mu.RLock()
	idx := c.indices[key]
	members := make([]string, 0, len(idx))
	for member := range idx {
		members = append(members, member)
	}
	scores := make(map[string]float64, len(idx))
	for member, score := range idx {
		scores[member] = score
	}
	c.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		if scores[members[i]] == scores[members[j]] {
			return members[i] > members[j]
		}
		return scores[members[i]] > scores[members[j]]
	})

	if offset >= int64(len(members)) {
		return nil, nil
	}
	end := offset + limit
	if end > int64(len(members)) {
		end = int64(len(members))
	}
	return members[offset:end], nil
}

// IndexTrim evicts the oldest entries so the index never exceeds maxSize
func (c *MemoryCache) IndexTrim(ctx context.Context, key string, maxSize int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indices[key]
	for int64(len(idx)) > maxSize {
		oldest := ""
		for member := range idx {
			if oldest == "" || idx[member] < idx[oldest] {
				oldest = member
			}
		}
		delete(idx, oldest)
	}
	return nil
}

// Close is a no-op
func (c *MemoryCache) Close() error { return nil }
