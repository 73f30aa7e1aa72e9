package cache

import (
	"errors"
	"time"
)

var (
	// ErrCacheMiss is returned when a cache key is not found
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned when an entry is missing required fields
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrReentrantBuild is returned when a build requests its own key
	// through the single-flight coordinator. A bundle never depends on
	// itself; re-entry is a programming error and would deadlock.
	ErrReentrantBuild = errors.New("re-entrant build for in-flight key")
)

// Entry is one cached bundle: the built output, the hash of that output,
// and the frozen set of files that contributed to it. The dependency set is
// owned by the entry; invalidation of any listed path removes the whole
// entry, never updates it in place.
type Entry struct {
	Key          string    `json:"key"`
	Content      string    `json:"content"`
	ContentHash  string    `json:"content_hash"`
	Dependencies []string  `json:"dependencies"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	ItemCount int64   `json:"item_count"`
}

// Config holds bundle cache configuration.
type Config struct {
	// MaxEntries bounds the in-memory level. Minimum 16.
	MaxEntries int

	// TTL is the entry lifetime. A TTL of zero or below means "expire
	// immediately": every request revalidates by rebuilding. This mirrors
	// the documented configuration policy, not never-expire.
	TTL time.Duration

	// Redis enables the shared second cache level when Addr is set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// DefaultConfig returns default cache configuration: one day TTL, memory
// level only.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 1024,
		TTL:        24 * time.Hour,
	}
}
