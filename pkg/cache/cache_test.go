package cache

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunchhq/crunch/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newMemoryCache(t *testing.T, ttl time.Duration) *BundleCache {
	t.Helper()
	c, err := New(Config{MaxEntries: 64, TTL: ttl}, nil, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func entryFixture(key string, deps ...string) *Entry {
	return &Entry{
		Key:          key,
		Content:      "body{margin:0}",
		ContentHash:  "abc123",
		Dependencies: deps,
	}
}

func TestBundleCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, time.Hour)

	require.NoError(t, c.Put(ctx, entryFixture("k1", "/css/a.css")))

	entry, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "body{margin:0}", entry.Content)
	assert.False(t, entry.CreatedAt.IsZero())

	_, err = c.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestBundleCache_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, time.Hour)

	require.NoError(t, c.Put(ctx, entryFixture("k1", "/css/a.css")))

	updated := entryFixture("k1", "/css/a.css", "/css/b.css")
	updated.Content = ".x{color:red}"
	require.NoError(t, c.Put(ctx, updated))

	entry, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, ".x{color:red}", entry.Content)
	assert.Equal(t, 1, c.Len())
}

func TestBundleCache_InvalidEntry(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, time.Hour)

	assert.ErrorIs(t, c.Put(ctx, nil), ErrInvalidEntry)
	assert.ErrorIs(t, c.Put(ctx, &Entry{}), ErrInvalidEntry)
}

func TestBundleCache_InvalidateByPath(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, time.Hour)

	require.NoError(t, c.Put(ctx, entryFixture("k1", "/css/a.css", "/css/b.css")))
	require.NoError(t, c.Put(ctx, entryFixture("k2", "/css/b.css")))
	require.NoError(t, c.Put(ctx, entryFixture("k3", "/css/c.css")))

	t.Run("shared dependency removes all dependents", func(t *testing.T) {
		removed := c.InvalidateByPath(ctx, "/css/b.css")
		assert.Equal(t, 2, removed)

		_, err := c.Get(ctx, "k1")
		assert.ErrorIs(t, err, ErrCacheMiss)
		_, err = c.Get(ctx, "k2")
		assert.ErrorIs(t, err, ErrCacheMiss)

		// Unrelated entry survives.
		_, err = c.Get(ctx, "k3")
		assert.NoError(t, err)
	})

	t.Run("unknown path is a no-op", func(t *testing.T) {
		assert.Equal(t, 0, c.InvalidateByPath(ctx, "/css/unknown.css"))
	})

	t.Run("path is normalized before lookup", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, entryFixture("k4", "/css/d.css")))
		assert.Equal(t, 1, c.InvalidateByPath(ctx, "/css/./d.css"))
	})
}

func TestBundleCache_InvalidationIsWholeEntry(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, time.Hour)

	require.NoError(t, c.Put(ctx, entryFixture("k1", "/css/a.css", "/css/b.css")))
	c.InvalidateByPath(ctx, "/css/a.css")

	// The other dependency's index entry must be gone too, not just the
	// triggering path's.
	assert.Equal(t, 0, c.TrackedPaths())
}

func TestBundleCache_RevalidatePolicy(t *testing.T) {
	ctx := context.Background()

	for _, ttl := range []time.Duration{0, -time.Hour} {
		c := newMemoryCache(t, ttl)

		require.NoError(t, c.Put(ctx, entryFixture("k1", "/css/a.css")))

		// TTL <= 0 means expire immediately, never never-expire.
		_, err := c.Get(ctx, "k1")
		assert.ErrorIs(t, err, ErrCacheMiss)
		assert.Equal(t, 0, c.Len())
	}
}

func TestBundleCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, time.Hour)

	require.NoError(t, c.Put(ctx, entryFixture("k1", "/css/a.css")))
	require.NoError(t, c.Put(ctx, entryFixture("k2", "/css/b.css")))

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.TrackedPaths())
}

func TestBundleCache_Stats(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, time.Hour)

	require.NoError(t, c.Put(ctx, entryFixture("k1", "/css/a.css")))
	_, _ = c.Get(ctx, "k1")
	_, _ = c.Get(ctx, "k1")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
	assert.Equal(t, int64(1), stats.ItemCount)
}

func newMetricsCache(t *testing.T) *BundleCache {
	t.Helper()
	m := observability.NewMetrics(prometheus.NewRegistry())
	c, err := New(Config{MaxEntries: 16, TTL: time.Hour}, m, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// requireReturns fails instead of hanging the whole run when fn blocks.
func requireReturns(t *testing.T, name string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("%s did not return", name)
	}
}

func TestBundleCache_MetricsEnabledRemovalPaths(t *testing.T) {
	ctx := context.Background()
	c := newMetricsCache(t)

	require.NoError(t, c.Put(ctx, entryFixture("k1", "/css/a.css")))

	// Every removal path runs the eviction callback under the LRU's
	// internal lock, where the entries gauge must not be touched.
	requireReturns(t, "InvalidateByPath", func() { c.InvalidateByPath(ctx, "/css/a.css") })
	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	requireReturns(t, "capacity eviction", func() {
		for i := 0; i < 40; i++ {
			_ = c.Put(ctx, entryFixture(fmt.Sprintf("cap-%d", i), "/css/cap.css"))
		}
	})
	assert.LessOrEqual(t, c.Len(), 16)

	requireReturns(t, "Clear", func() { _ = c.Clear(ctx) })
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.TrackedPaths())
}

func TestBundleCache_SweepKeepsIndexForConcurrentStores(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, time.Hour)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				c.Sweep()
			}
		}
	}()

	for i := 0; i < 200; i++ {
		require.NoError(t, c.Put(ctx, entryFixture(fmt.Sprintf("k%d", i), "/css/shared.css")))
	}
	close(stop)
	wg.Wait()

	// Every entry still resident must stay reachable through the index,
	// even the ones stored while a sweep was mid-pass.
	live := c.Len()
	assert.Equal(t, live, c.InvalidateByPath(ctx, "/css/shared.css"))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.TrackedPaths())
}

func TestBundleCache_SweepDropsDeadIndexEntries(t *testing.T) {
	ctx := context.Background()
	c, err := New(Config{MaxEntries: 64, TTL: 30 * time.Millisecond}, nil, testLogger())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(ctx, entryFixture("k1", "/css/a.css")))
	time.Sleep(80 * time.Millisecond)

	// After expiry the index may still reference the dead entry; Sweep
	// reconciles it.
	c.Sweep()
	assert.Equal(t, 0, c.TrackedPaths())
}
