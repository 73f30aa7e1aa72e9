package cache

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/crunchhq/crunch/pkg/observability"
)

// BundleCache maps bundle fingerprints to built entries and tracks, per
// contributing file path, which entries must die when that file changes.
//
// The memory level is an expirable LRU; an optional Redis level shares
// entries between processes. Invalidation is all-or-nothing entry removal.
type BundleCache struct {
	cfg        Config
	revalidate bool

	l1 *lru.LRU[string, *Entry]
	l2 *redisLevel

	// byPath maps a dependency file path to the set of entry keys built
	// from it. Guarded by mu; the LRU has its own locking.
	mu     sync.Mutex
	byPath map[string]map[string]struct{}

	hits   atomic.Int64
	misses atomic.Int64

	// stores counts index() calls so Sweep can detect entries stored
	// after its live-key snapshot.
	stores atomic.Int64

	metrics *observability.Metrics
	logger  *observability.Logger
}

// New creates a BundleCache. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics, logger *observability.Logger) (*BundleCache, error) {
	if cfg.MaxEntries < 16 {
		cfg.MaxEntries = 16
	}

	c := &BundleCache{
		cfg:        cfg,
		revalidate: cfg.TTL <= 0,
		byPath:     make(map[string]map[string]struct{}),
		metrics:    metrics,
		logger:     logger,
	}

	ttl := cfg.TTL
	if c.revalidate {
		// The LRU wants a positive TTL; Get short-circuits to a miss in
		// revalidate mode so the value is never observed.
		ttl = time.Minute
	}
	c.l1 = lru.NewLRU[string, *Entry](cfg.MaxEntries, c.onEvict, ttl)

	if cfg.RedisAddr != "" {
		l2, err := newRedisLevel(cfg, logger)
		if err != nil {
			return nil, err
		}
		c.l2 = l2
	}

	return c, nil
}

// onEvict drops the evicted entry's keys from the path index. The LRU
// invokes it while holding its internal lock, so it must never call back
// into c.l1; the entries gauge is refreshed at the call sites instead.
func (c *BundleCache) onEvict(key string, entry *Entry) {
	c.mu.Lock()
	for _, path := range entry.Dependencies {
		if keys, ok := c.byPath[path]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byPath, path)
			}
		}
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CacheEvictionsTotal.Inc()
	}
}

// updateEntriesGauge must not be called from onEvict or while c.mu is
// held: it takes the LRU lock, and onEvict takes c.mu under that lock.
func (c *BundleCache) updateEntriesGauge() {
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(c.l1.Len()))
	}
}

// Get retrieves a cached bundle entry, or ErrCacheMiss. In revalidate mode
// (TTL <= 0) every lookup is a miss by policy.
func (c *BundleCache) Get(ctx context.Context, key string) (*Entry, error) {
	if c.revalidate {
		c.recordMiss("policy")
		return nil, ErrCacheMiss
	}

	if entry, ok := c.l1.Get(key); ok {
		c.recordHit("memory")
		return entry, nil
	}

	if c.l2 != nil {
		entry, err := c.l2.get(ctx, key)
		if err == nil {
			// Promote so the next lookup stays local.
			c.l1.Add(key, entry)
			c.index(entry)
			c.updateEntriesGauge()
			c.recordHit("redis")
			return entry, nil
		}
		if err != ErrCacheMiss {
			c.logger.WithError(err).Warn("redis cache level unavailable, falling through")
		}
	}

	c.recordMiss("memory")
	return nil, ErrCacheMiss
}

// Put stores an entry, overwriting any existing entry for its key. In
// revalidate mode nothing is stored.
func (c *BundleCache) Put(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Key == "" {
		return ErrInvalidEntry
	}
	if c.revalidate {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	c.l1.Add(entry.Key, entry)
	c.index(entry)

	if c.l2 != nil {
		if err := c.l2.set(ctx, entry); err != nil {
			c.logger.WithError(err).Warn("failed to write entry to redis cache level")
		}
	}

	c.updateEntriesGauge()
	return nil
}

func (c *BundleCache) index(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores.Add(1)
	for _, path := range entry.Dependencies {
		keys, ok := c.byPath[path]
		if !ok {
			keys = make(map[string]struct{})
			c.byPath[path] = keys
		}
		keys[entry.Key] = struct{}{}
	}
}

// InvalidateByPath removes every entry whose dependency set contains path
// and returns the number of removed entries. Called by the file watcher on
// writes and deletes under monitored roots.
func (c *BundleCache) InvalidateByPath(ctx context.Context, path string) int {
	clean := filepath.Clean(path)

	c.mu.Lock()
	keySet := c.byPath[clean]
	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.l1.Remove(key) // eviction callback de-indexes
		if c.l2 != nil {
			if err := c.l2.delete(ctx, key); err != nil {
				c.logger.WithError(err).WithField("key", key).
					Warn("failed to invalidate entry in redis cache level")
			}
		}
	}

	if len(keys) > 0 {
		c.logger.WithField("path", clean).
			WithField("entries", len(keys)).
			Info("invalidated bundle cache entries for changed file")
		if c.metrics != nil {
			c.metrics.CacheInvalidationsTotal.Add(float64(len(keys)))
		}
		c.updateEntriesGauge()
	}
	return len(keys)
}

// Clear removes every entry from all levels.
func (c *BundleCache) Clear(ctx context.Context) error {
	c.l1.Purge()

	c.mu.Lock()
	c.byPath = make(map[string]map[string]struct{})
	c.mu.Unlock()

	if c.l2 != nil {
		if err := c.l2.clear(ctx); err != nil {
			return err
		}
	}
	c.updateEntriesGauge()
	return nil
}

// Len returns the number of entries in the memory level.
func (c *BundleCache) Len() int {
	return c.l1.Len()
}

// TrackedPaths returns the number of distinct files the cache currently
// watches through entry dependency sets.
func (c *BundleCache) TrackedPaths() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byPath)
}

// Stats returns hit/miss statistics.
func (c *BundleCache) Stats() Stats {
	stats := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: int64(c.l1.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Sweep re-syncs the path index with the LRU, dropping index entries whose
// cache entries have already expired. Run periodically by the cron job.
func (c *BundleCache) Sweep() int {
	stores := c.stores.Load()

	live := make(map[string]struct{})
	for _, key := range c.l1.Keys() {
		live[key] = struct{}{}
	}
	c.updateEntriesGauge()

	c.mu.Lock()
	defer c.mu.Unlock()

	// An entry stored after the snapshot is live but absent from it;
	// deleting against the snapshot would orphan its index records. Skip
	// this pass, the next one reconciles. The LRU cannot be consulted
	// here: onEvict takes c.mu under the LRU lock.
	if c.stores.Load() != stores {
		return 0
	}

	removed := 0
	for path, keys := range c.byPath {
		for key := range keys {
			if _, ok := live[key]; !ok {
				delete(keys, key)
				removed++
			}
		}
		if len(keys) == 0 {
			delete(c.byPath, path)
		}
	}
	return removed
}

// Close releases resources.
func (c *BundleCache) Close() error {
	c.l1.Purge()
	if c.l2 != nil {
		return c.l2.close()
	}
	return nil
}

func (c *BundleCache) recordHit(level string) {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(level).Inc()
	}
}

func (c *BundleCache) recordMiss(level string) {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(level).Inc()
	}
}
