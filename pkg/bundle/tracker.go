package bundle

import (
	"path/filepath"
	"sort"
	"sync"
)

// Tracker accumulates every concrete file consumed while producing one
// bundle. One instance is created per build and frozen into the cache entry
// when the build completes; instances are never shared between builds.
//
// Add is safe for concurrent use because remote prefetch and recursive
// import resolution can register paths from different goroutines of the
// same build.
type Tracker struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewTracker creates an empty per-build dependency tracker.
func NewTracker() *Tracker {
	return &Tracker{paths: make(map[string]struct{})}
}

// Add registers a file path. Paths are normalized before deduplication, so
// "./a.css" and "a.css" count once. Adding an already-present path is a
// no-op.
func (t *Tracker) Add(path string) {
	if path == "" {
		return
	}
	clean := filepath.Clean(path)
	t.mu.Lock()
	t.paths[clean] = struct{}{}
	t.mu.Unlock()
}

// Contains reports whether path was registered.
func (t *Tracker) Contains(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.paths[filepath.Clean(path)]
	return ok
}

// Len returns the number of distinct registered paths.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.paths)
}

// Contents returns a sorted snapshot for freezing into a cache entry. The
// sort keeps entry contents deterministic; the set itself is unordered.
func (t *Tracker) Contents() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.paths))
	for p := range t.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
