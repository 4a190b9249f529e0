package cache

import (
	"context"
	"fmt"

	"github.com/lojahub/lojasync/internal/common/cnst"
	"github.com/lojahub/lojasync/internal/common/config"

	"go.uber.org/zap"
)

// Cache is the durable last-known-good store in front of local reads.
// Entries are whole-value replacements and never expire on their own:
// the next successful Set supersedes them.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set durably replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases any underlying resources.
	Close() error
}

// Key builds the tenant-partitioned cache key for a table.
func Key(table, lojaID string) string {
	return fmt.Sprintf("%s-cache-%s", table, lojaID)
}

// NewCache creates a cache based on configuration
func NewCache(logger *zap.Logger, cfg *config.CacheConfig) (Cache, error) {
	logger.Info("Initializing read cache", zap.String("type", cfg.Type))
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(logger), nil
	case "redis":
		return NewRedisCache(logger, &cfg.Redis)
	default:
		return nil, fmt.Errorf("%w: %s", cnst.ErrUnsupportedCache, cfg.Type)
	}
}
