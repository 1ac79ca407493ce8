package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/sparkgen/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newDiskCache(t *testing.T, dir string, clock *fakeClock) *Cache {
	t.Helper()
	disk, err := NewBoltDisk(dir)
	require.NoError(t, err)
	c := New(WithDisk(disk), WithClock(clock.Now))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryGetSetRemove(t *testing.T) {
	c := New()
	_, ok := c.Get("k")
	assert.False(t, ok)

	require.NoError(t, c.Set("k", []byte("v"), MemoryOnly, 0))
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	require.NoError(t, c.Remove("k"))
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestReturnedValueIsACopy(t *testing.T) {
	c := New()
	in := []byte("abc")
	require.NoError(t, c.Set("k", in, MemoryOnly, 0))
	in[0] = 'x'
	v, _ := c.Get("k")
	v[1] = 'y'
	again, _ := c.Get("k")
	assert.Equal(t, "abc", string(again))
}

func TestTTLExpiration(t *testing.T) {
	clock := newFakeClock()
	c := newDiskCache(t, t.TempDir(), clock)

	for _, s := range []Strategy{MemoryOnly, DiskOnly, Hybrid} {
		t.Run(s.String(), func(t *testing.T) {
			key := "ttl_" + s.String()
			require.NoError(t, c.Set(key, []byte("v"), s, time.Second))

			_, ok := c.Get(key)
			assert.True(t, ok)

			clock.Advance(time.Second)
			_, ok = c.Get(key)
			assert.False(t, ok, "entry must expire without explicit removal")
		})
	}
}

func TestDiskStrategyWithoutDisk(t *testing.T) {
	c := New()
	err := c.Set("k", []byte("v"), Hybrid, 0)
	assert.ErrorIs(t, err, ErrNoDisk)
}

func TestHybridPromotesAfterRestart(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	disk, err := NewBoltDisk(dir)
	require.NoError(t, err)
	first := New(WithDisk(disk), WithClock(clock.Now))
	require.NoError(t, first.Set("hybrid", []byte("h"), Hybrid, time.Hour))
	require.NoError(t, first.Set("diskonly", []byte("d"), DiskOnly, time.Hour))
	require.NoError(t, first.Set("memonly", []byte("m"), MemoryOnly, time.Hour))
	require.NoError(t, first.Close())

	second := newDiskCache(t, dir, clock)
	_, ok := second.Get("memonly")
	assert.False(t, ok, "memory entries die with the process")

	v, ok := second.Get("hybrid")
	require.True(t, ok)
	assert.Equal(t, "h", string(v))
	assert.Equal(t, 1, second.Stats().Entries, "hybrid disk hit is promoted to memory")

	v, ok = second.Get("diskonly")
	require.True(t, ok)
	assert.Equal(t, "d", string(v))
	assert.Equal(t, 1, second.Stats().Entries, "disk-only entries stay on disk")

	_, _ = second.Get("hybrid")
	stats := second.Stats()
	assert.Equal(t, int64(1), stats.MemoryHits)
	assert.Equal(t, int64(2), stats.DiskHits)
}

func TestClear(t *testing.T) {
	c := newDiskCache(t, t.TempDir(), newFakeClock())
	require.NoError(t, c.Set("a", []byte("1"), Hybrid, 0))
	require.NoError(t, c.Set("b", []byte("2"), DiskOnly, 0))
	require.NoError(t, c.Clear())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	c := newDiskCache(t, t.TempDir(), clock)
	require.NoError(t, c.Set("short", []byte("1"), Hybrid, time.Minute))
	require.NoError(t, c.Set("long", []byte("2"), Hybrid, time.Hour))
	require.NoError(t, c.Set("mem", []byte("3"), MemoryOnly, time.Minute))

	clock.Advance(2 * time.Minute)
	removed, err := c.Sweep(context.Background())
	require.NoError(t, err)
	// short (memory + disk) and mem
	assert.Equal(t, 3, removed)

	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestGetOrLoadSingleFlight(t *testing.T) {
	c := New()
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	loader := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return []byte("value"), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "recs", MemoryOnly, time.Minute, loader)
			assert.NoError(t, err)
			results[i] = string(v)
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "value", r)
	}
}

func TestGetOrLoadLoaderError(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	_, err := c.GetOrLoad(context.Background(), "k", MemoryOnly, 0, func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad(context.Background(), "k", MemoryOnly, 0, func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(v))
}

func TestCancelledPopulatorReleasesKey(t *testing.T) {
	c := New()
	firstCtx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(firstCtx, "k", MemoryOnly, 0, func(ctx context.Context) ([]byte, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		firstErr <- err
	}()
	<-entered

	secondDone := make(chan []byte, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), "k", MemoryOnly, 0, func(ctx context.Context) ([]byte, error) {
			return []byte("fresh"), nil
		})
		assert.NoError(t, err)
		secondDone <- v
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	select {
	case v := <-secondDone:
		assert.Equal(t, "fresh", string(v))
	case <-time.After(2 * time.Second):
		t.Fatal("waiter stuck behind a cancelled populator")
	}
}

func TestNetworkFirst(t *testing.T) {
	c := New()
	v, stale, err := NetworkFirst(context.Background(), c, "cats", MemoryOnly, time.Hour, func(ctx context.Context) ([]byte, error) {
		return []byte("v1"), nil
	})
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, "v1", string(v))

	v, stale, err = NetworkFirst(context.Background(), c, "cats", MemoryOnly, time.Hour, func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("offline")
	})
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, "v1", string(v))

	_, _, err = NetworkFirst(context.Background(), c, "other", MemoryOnly, time.Hour, func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("offline")
	})
	assert.Error(t, err)
}

func TestCacheThenRefresh(t *testing.T) {
	c := New()
	var version atomic.Int32
	fetch := func(ctx context.Context) ([]byte, error) {
		n := version.Add(1)
		return []byte{byte('0' + n)}, nil
	}

	v, err := CacheThenRefresh(context.Background(), c, "recs", MemoryOnly, time.Hour, fetch, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	refreshed := make(chan []byte, 1)
	v, err = CacheThenRefresh(context.Background(), c, "recs", MemoryOnly, time.Hour, fetch, func(b []byte, err error) {
		assert.NoError(t, err)
		refreshed <- b
	})
	require.NoError(t, err)
	assert.Equal(t, "1", string(v), "cached value returned immediately")

	select {
	case b := <-refreshed:
		assert.Equal(t, "2", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("background refresh did not run")
	}
	v, _ = c.Get("recs")
	assert.Equal(t, "2", string(v))
}

func TestValueHelpers(t *testing.T) {
	c := New()
	in := models.Object(map[string]models.Value{"title": models.String("Picnic")})
	require.NoError(t, c.SetValue("v", in, MemoryOnly, 0))

	out, ok := c.GetValue("v")
	require.True(t, ok)
	title, _ := out.Field("title").AsString()
	assert.Equal(t, "Picnic", title)

	require.NoError(t, c.Set("bad", []byte("{"), MemoryOnly, 0))
	_, ok = c.GetValue("bad")
	assert.False(t, ok)
	_, ok = c.Get("bad")
	assert.False(t, ok, "undecodable value is dropped")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "ai_recs_romantic_40.71_-74.01", GeoKey("ai_recs", "romantic", 40.7128, -74.0060))
	assert.Equal(t, GeoKey("p", "c", 40.71281, 1), GeoKey("p", "c", 40.71279, 1))
	assert.NotEqual(t, GeoKey("p", "a", 1, 1), GeoKey("p", "b", 1, 1))
	assert.Equal(t, "p_c_0.00_0.00", GeoKey("p", "c", -0.001, 0))

	at := time.Date(2026, 3, 1, 12, 34, 0, 0, time.UTC)
	assert.Equal(t, TimeBucket(at, time.Hour), TimeBucket(at.Add(20*time.Minute), time.Hour))
}

func TestLoadAndRefreshShareFlight(t *testing.T) {
	c := New()
	var calls atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	loader := func(ctx context.Context) ([]byte, error) {
		n := calls.Add(1)
		started <- struct{}{}
		<-release
		return []byte{byte('0' + n)}, nil
	}

	loaded := make(chan []byte, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), "cats", MemoryOnly, time.Hour, loader)
		assert.NoError(t, err)
		loaded <- v
	}()
	<-started

	refreshed := make(chan []byte, 1)
	go func() {
		v, err := c.Refresh(context.Background(), "cats", MemoryOnly, time.Hour, loader)
		assert.NoError(t, err)
		refreshed <- v
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.Equal(t, "1", string(<-loaded))
	assert.Equal(t, "1", string(<-refreshed))
	assert.Equal(t, int32(1), calls.Load())
}

// racingDisk lets a test write through the cache while a disk read is in
// progress.
type racingDisk struct {
	*BoltDisk
	duringLoad func()
}

func (d *racingDisk) Load(key string) (*Entry, error) {
	e, err := d.BoltDisk.Load(key)
	if d.duringLoad != nil {
		d.duringLoad()
	}
	return e, err
}

func TestDiskPromotionKeepsNewerMemoryEntry(t *testing.T) {
	clock := newFakeClock()
	bolt, err := NewBoltDisk(t.TempDir())
	require.NoError(t, err)
	disk := &racingDisk{BoltDisk: bolt}
	c := New(WithDisk(disk), WithClock(clock.Now))
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Set("recs", []byte("old"), Hybrid, time.Hour))
	c.ClearMemory()

	disk.duringLoad = func() {
		disk.duringLoad = nil
		require.NoError(t, c.Set("recs", []byte("new"), MemoryOnly, time.Hour))
	}
	v, ok := c.Get("recs")
	require.True(t, ok)
	assert.Equal(t, "new", string(v))

	v, ok = c.Get("recs")
	require.True(t, ok)
	assert.Equal(t, "new", string(v), "stale disk entry must not replace the newer one")
}

func TestCloseWaitsForBackgroundRefresh(t *testing.T) {
	dir := t.TempDir()
	disk, err := NewBoltDisk(dir)
	require.NoError(t, err)
	c := New(WithDisk(disk))
	require.NoError(t, c.Set("recs", []byte("v1"), Hybrid, time.Hour))

	release := make(chan struct{})
	v, err := CacheThenRefresh(context.Background(), c, "recs", Hybrid, time.Hour, func(ctx context.Context) ([]byte, error) {
		<-release
		return []byte("v2"), nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(v))

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case <-closed:
		t.Fatal("Close returned while a refresh was pending")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-closed)

	disk, err = NewBoltDisk(dir)
	require.NoError(t, err)
	reopened := New(WithDisk(disk))
	defer reopened.Close()
	v, ok := reopened.Get("recs")
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}
