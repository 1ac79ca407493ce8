package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// NetworkFirst always tries a fresh fetch and serves the cached value only
// when the fetch fails. stale reports that the returned value came from the cache.
func NetworkFirst(ctx context.Context, c *Cache, key string, strategy Strategy, ttl time.Duration, fetch Loader) (value []byte, stale bool, err error) {
	v, err := c.Refresh(ctx, key, strategy, ttl, fetch)
	if err == nil {
		return v, false, nil
	}
	if cached, ok := c.Get(key); ok {
		c.logger.Debug("Serving cached value after fetch failure", zap.String("key", key), zap.Error(err))
		return cached, true, nil
	}
	return nil, false, err
}

// CacheThenRefresh returns a cached value immediately and refreshes it in the
// background. A cold miss is populated synchronously through GetOrLoad.
// onRefresh, if set, is called once the background refresh finishes. Close
// waits for pending refreshes.
func CacheThenRefresh(ctx context.Context, c *Cache, key string, strategy Strategy, ttl time.Duration, fetch Loader, onRefresh func([]byte, error)) ([]byte, error) {
	if cached, ok := c.Get(key); ok {
		bg := context.WithoutCancel(ctx)
		c.background.Add(1)
		go func() {
			defer c.background.Done()
			v, err := c.Refresh(bg, key, strategy, ttl, fetch)
			if err != nil {
				c.logger.Debug("Background refresh failed", zap.String("key", key), zap.Error(err))
			}
			if onRefresh != nil {
				onRefresh(v, err)
			}
		}()
		return cached, nil
	}
	return c.GetOrLoad(ctx, key, strategy, ttl, fetch)
}
