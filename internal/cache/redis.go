package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/lojahub/lojasync/internal/common/cnst"
	"github.com/lojahub/lojasync/internal/common/config"
	"github.com/lojahub/lojasync/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache implements Cache on redis so the last-known-good lists
// survive app restarts and are shared between open windows.
type RedisCache struct {
	logger *zap.Logger
	client redis.UniversalClient
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a new Redis-backed cache
func NewRedisCache(logger *zap.Logger, cfg *config.RedisConfig) (*RedisCache, error) {
	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisCache{
		logger: logger.Named("cache.redis"),
		client: client,
	}, nil
}

// NewRedisClient builds a universal client from the shared redis
// configuration; the bus bridge reuses it.
func NewRedisClient(cfg *config.RedisConfig) (redis.UniversalClient, error) {
	addrs := utils.SplitByMultipleDelimiters(cfg.Addr, ";", ",")
	redisOptions := &redis.UniversalOptions{
		Addrs:    addrs,
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.ClusterType == cnst.RedisClusterTypeSentinel {
		redisOptions.MasterName = cfg.MasterName
	}
	if cfg.ClusterType != cnst.RedisClusterTypeCluster {
		// can not set db in cluster mode
		redisOptions.DB = cfg.DB
	}
	client := redis.NewUniversalClient(redisOptions)

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Get implements Cache.Get
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set implements Cache.Set. Entries carry no TTL: invalidation is
// passive, the next Set replaces the value.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, key, value, 0).Err()
}

// Close implements Cache.Close
func (c *RedisCache) Close() error {
	return c.client.Close()
}
