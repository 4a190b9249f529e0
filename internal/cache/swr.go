package cache

import (
	"context"

	"github.com/lojahub/lojasync/pkg/metrics"

	"go.uber.org/zap"
)

// Loader implements the stale-while-revalidate read path: callers get the
// last cached value immediately and a channel that later delivers the
// fresh one. When a cached value exists a view never shows a loading
// state, only "cache, then fresh".
type Loader struct {
	logger  *zap.Logger
	cache   Cache
	metrics *metrics.Metrics
}

// LoadResult is the two-phase answer of a stale-while-revalidate read.
type LoadResult struct {
	// Cached is the value served instantly, nil when CacheHit is false.
	Cached []byte
	// CacheHit reports whether Cached was present.
	CacheHit bool
	// Fresh delivers the revalidated value exactly once, then closes.
	// The channel closes without a value if the fetch failed.
	Fresh <-chan []byte
}

// NewLoader creates a stale-while-revalidate loader over c.
func NewLoader(logger *zap.Logger, c Cache, m *metrics.Metrics) *Loader {
	return &Loader{
		logger:  logger.Named("cache.swr"),
		cache:   c,
		metrics: m,
	}
}

// Load serves Key(table, lojaID) from cache and concurrently revalidates
// it with fetch. The fresh value replaces the cache entry before it is
// delivered, so the next load starts from it.
func (l *Loader) Load(ctx context.Context, table, lojaID string, fetch func(context.Context) ([]byte, error)) (LoadResult, error) {
	key := Key(table, lojaID)

	cached, hit, err := l.cache.Get(ctx, key)
	if err != nil {
		// A broken cache is reported, not papered over with an empty hit.
		return LoadResult{}, err
	}
	if hit {
		l.metrics.CacheHit(table)
	} else {
		l.metrics.CacheMiss(table)
	}

	fresh := make(chan []byte, 1)
	go func() {
		defer close(fresh)
		value, err := fetch(ctx)
		if err != nil {
			l.logger.Warn("revalidation fetch failed",
				zap.String("key", key),
				zap.Error(err))
			return
		}
		if err := l.cache.Set(ctx, key, value); err != nil {
			l.logger.Warn("failed to refresh cache entry",
				zap.String("key", key),
				zap.Error(err))
		}
		fresh <- value
	}()

	return LoadResult{Cached: cached, CacheHit: hit, Fresh: fresh}, nil
}
