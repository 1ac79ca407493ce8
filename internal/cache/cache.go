package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xaenox/sparkgen/internal/metrics"
	"github.com/xaenox/sparkgen/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNoDisk is returned when a disk strategy is used on a cache built without a disk tier.
var ErrNoDisk = errors.New("cache has no disk tier")

// errPopulatorCancelled tells waiters that the goroutine populating a key was
// cancelled and that they may start a new population.
var errPopulatorCancelled = errors.New("cache populator cancelled")

// Loader computes the value for a missing key.
type Loader func(ctx context.Context) ([]byte, error)

type Stats struct {
	MemoryHits int64
	DiskHits   int64
	Misses     int64
	Loads      int64
	Entries    int
}

// Cache is a two-tier key/value cache with per-key single-flight population.
type Cache struct {
	mu     sync.RWMutex
	memory map[string]*Entry
	disk   Disk

	// group covers GetOrLoad and Refresh so a key has at most one loader
	// running.
	group singleflight.Group
	// background tracks CacheThenRefresh goroutines; Close waits for them.
	background sync.WaitGroup

	now    func() time.Time
	logger *zap.Logger

	memoryHits atomic.Int64
	diskHits   atomic.Int64
	misses     atomic.Int64
	loads      atomic.Int64
}

type Option func(*Cache)

func WithDisk(d Disk) Option {
	return func(c *Cache) { c.disk = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		memory: make(map[string]*Entry),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasDisk reports whether disk strategies are available.
func (c *Cache) HasDisk() bool { return c.disk != nil }

// Get returns the live value for key. Expired entries are evicted on the way.
func (c *Cache) Get(key string) ([]byte, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.memory[key]
	c.mu.RUnlock()
	if ok {
		if !e.Expired(now) {
			c.memoryHits.Add(1)
			metrics.CacheLookups.WithLabelValues("memory", "hit").Inc()
			return append([]byte(nil), e.Value...), true
		}
		c.evictMemory(key, e)
	}

	if c.disk != nil {
		e, err := c.disk.Load(key)
		if err != nil {
			c.logger.Warn("Failed to read disk cache", zap.String("key", key), zap.Error(err))
		} else if e != nil {
			if !e.Expired(now) {
				if e.Strategy.usesMemory() {
					c.mu.Lock()
					// a concurrent Set may have written a newer entry
					if cur, ok := c.memory[key]; ok && !cur.Expired(now) {
						e = cur
					} else {
						c.memory[key] = e
					}
					c.mu.Unlock()
				}
				c.diskHits.Add(1)
				metrics.CacheLookups.WithLabelValues("disk", "hit").Inc()
				return append([]byte(nil), e.Value...), true
			}
			if err := c.disk.Delete(key); err != nil {
				c.logger.Warn("Failed to evict expired disk entry", zap.String("key", key), zap.Error(err))
			}
		}
	}

	c.misses.Add(1)
	metrics.CacheLookups.WithLabelValues("all", "miss").Inc()
	return nil, false
}

// evictMemory removes key only if it still maps to the expired entry we saw.
func (c *Cache) evictMemory(key string, seen *Entry) {
	c.mu.Lock()
	if cur, ok := c.memory[key]; ok && cur == seen {
		delete(c.memory, key)
	}
	c.mu.Unlock()
}

// Set stores value under key. A ttl <= 0 means the entry never expires.
func (c *Cache) Set(key string, value []byte, strategy Strategy, ttl time.Duration) error {
	if strategy.usesDisk() && c.disk == nil {
		return fmt.Errorf("%w: strategy %s", ErrNoDisk, strategy)
	}
	e := newEntry(key, value, strategy, ttl, c.now())

	if strategy.usesDisk() {
		if err := c.disk.Store(e); err != nil {
			return fmt.Errorf("failed to write disk cache: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if strategy.usesMemory() {
		c.memory[key] = e
	} else {
		delete(c.memory, key)
	}
	return nil
}

func (c *Cache) Remove(key string) error {
	c.mu.Lock()
	delete(c.memory, key)
	c.mu.Unlock()

	if c.disk != nil {
		return c.disk.Delete(key)
	}
	return nil
}

// ClearMemory drops the memory tier only.
func (c *Cache) ClearMemory() {
	c.mu.Lock()
	c.memory = make(map[string]*Entry)
	c.mu.Unlock()
}

func (c *Cache) Clear() error {
	c.ClearMemory()
	if c.disk != nil {
		return c.disk.Clear()
	}
	return nil
}

// GetOrLoad returns the cached value or populates it with loader. Concurrent
// callers for the same missing key share a single loader run. If the
// populating caller is cancelled, waiters whose own context is still live
// start a fresh population.
func (c *Cache) GetOrLoad(ctx context.Context, key string, strategy Strategy, ttl time.Duration, loader Loader) ([]byte, error) {
	for {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, retry, err := c.await(ctx, c.group.DoChan(key, func() (any, error) {
			if v, ok := c.Get(key); ok {
				return v, nil
			}
			return c.populate(ctx, key, strategy, ttl, loader)
		}))
		if !retry {
			return v, err
		}
	}
}

// await waits for a flight. retry reports that the flight's populator was
// cancelled while ctx is still live.
func (c *Cache) await(ctx context.Context, ch <-chan singleflight.Result) (value []byte, retry bool, err error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			return append([]byte(nil), res.Val.([]byte)...), false, nil
		}
		if errors.Is(res.Err, errPopulatorCancelled) {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			return nil, true, nil
		}
		return nil, false, res.Err
	}
}

func (c *Cache) populate(ctx context.Context, key string, strategy Strategy, ttl time.Duration, loader Loader) ([]byte, error) {
	c.loads.Add(1)
	metrics.CacheLoads.Inc()

	v, err := loader(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", errPopulatorCancelled, ctx.Err())
		}
		return nil, err
	}
	if err := c.Set(key, v, strategy, ttl); err != nil {
		c.logger.Warn("Failed to store loaded value", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// Refresh fetches a fresh value and stores it, ignoring any cached value.
// It shares the flight of a concurrent GetOrLoad or Refresh of the same key.
func (c *Cache) Refresh(ctx context.Context, key string, strategy Strategy, ttl time.Duration, loader Loader) ([]byte, error) {
	for {
		v, retry, err := c.await(ctx, c.group.DoChan(key, func() (any, error) {
			return c.populate(ctx, key, strategy, ttl, loader)
		}))
		if !retry {
			return v, err
		}
	}
}

// Sweep evicts every expired entry from both tiers.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	now := c.now()
	removed := 0

	c.mu.Lock()
	for k, e := range c.memory {
		if e.Expired(now) {
			delete(c.memory, k)
			removed++
		}
	}
	c.mu.Unlock()

	if c.disk == nil {
		return removed, nil
	}
	var expired []string
	err := c.disk.ForEach(func(e *Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.Expired(now) {
			expired = append(expired, e.Key)
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to scan disk cache: %w", err)
	}
	if len(expired) == 0 {
		return removed, nil
	}
	if err := c.disk.Delete(expired...); err != nil {
		return removed, fmt.Errorf("failed to evict disk entries: %w", err)
	}
	c.logger.Debug("Swept cache", zap.Int("removed", removed+len(expired)))
	return removed + len(expired), nil
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.memory)
	c.mu.RUnlock()
	return Stats{
		MemoryHits: c.memoryHits.Load(),
		DiskHits:   c.diskHits.Load(),
		Misses:     c.misses.Load(),
		Loads:      c.loads.Load(),
		Entries:    n,
	}
}

// Close waits for background refreshes to finish, then closes the disk tier.
func (c *Cache) Close() error {
	c.background.Wait()
	if c.disk != nil {
		return c.disk.Close()
	}
	return nil
}

// GetValue decodes a cached tagged JSON value.
func (c *Cache) GetValue(key string) (models.Value, bool) {
	raw, ok := c.Get(key)
	if !ok {
		return models.Null(), false
	}
	var v models.Value
	if err := v.UnmarshalJSON(raw); err != nil {
		c.logger.Warn("Dropping undecodable cache value", zap.String("key", key), zap.Error(err))
		_ = c.Remove(key)
		return models.Null(), false
	}
	return v, true
}

func (c *Cache) SetValue(key string, v models.Value, strategy Strategy, ttl time.Duration) error {
	raw, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return c.Set(key, raw, strategy, ttl)
}
