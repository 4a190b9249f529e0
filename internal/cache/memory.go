package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryCache implements Cache with a process-local map. It loses its
// contents on restart, which only costs the first paint its head start.
type MemoryCache struct {
	logger *zap.Logger
	mu     sync.RWMutex
	data   map[string][]byte
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(logger *zap.Logger) *MemoryCache {
	return &MemoryCache{
		logger: logger.Named("cache.memory"),
		data:   make(map[string][]byte),
	}
}

// Get implements Cache.Get
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Set implements Cache.Set
func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = stored
	return nil
}

// Close implements Cache.Close
func (c *MemoryCache) Close() error {
	return nil
}
