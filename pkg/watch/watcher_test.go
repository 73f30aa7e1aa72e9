package watch

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunchhq/crunch/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// changeRecorder collects reported paths thread-safely.
type changeRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (c *changeRecorder) record(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *changeRecorder) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func (c *changeRecorder) waitFor(t *testing.T, want int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= want {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := c.snapshot()
	require.GreaterOrEqual(t, len(got), want, "timed out waiting for change reports")
	return got
}

func newTestWatcher(t *testing.T, root string, debounce time.Duration) (*Watcher, *changeRecorder) {
	t.Helper()
	rec := &changeRecorder{}
	w, err := New(Config{Roots: []string{root}, Debounce: debounce}, rec.record, testLogger(), nil)
	require.NoError(t, err)
	w.Start()
	t.Cleanup(func() { w.Stop() })
	return w, rec
}

func TestWatcher_ReportsFileChange(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "style.css")
	require.NoError(t, os.WriteFile(path, []byte(".v1{}"), 0644))

	_, rec := newTestWatcher(t, root, 50*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(".v2{}"), 0644))

	got := rec.waitFor(t, 1, 3*time.Second)
	assert.Contains(t, got, path)
}

func TestWatcher_DebouncesWriteBursts(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "style.css")
	require.NoError(t, os.WriteFile(path, []byte(".v0{}"), 0644))

	_, rec := newTestWatcher(t, root, 150*time.Millisecond)

	// A burst of rapid writes inside the debounce window.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(".burst{}"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	rec.waitFor(t, 1, 3*time.Second)
	// Give any spurious extra reports time to surface.
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1, "one burst must collapse to one report")
}

func TestWatcher_PicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	_, rec := newTestWatcher(t, root, 50*time.Millisecond)

	sub := filepath.Join(root, "widgets")
	require.NoError(t, os.Mkdir(sub, 0755))
	// The watcher needs a moment to add the new directory.
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(sub, "a.css")
	require.NoError(t, os.WriteFile(path, []byte(".a{}"), 0644))

	got := rec.waitFor(t, 1, 3*time.Second)
	assert.Contains(t, got, path)
}

func TestWatcher_ReportsRemovals(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "style.css")
	require.NoError(t, os.WriteFile(path, []byte(".v1{}"), 0644))

	_, rec := newTestWatcher(t, root, 50*time.Millisecond)

	require.NoError(t, os.Remove(path))

	got := rec.waitFor(t, 1, 3*time.Second)
	assert.Contains(t, got, path)
}

func TestWatcher_StopClosesCleanly(t *testing.T) {
	root := t.TempDir()
	rec := &changeRecorder{}
	w, err := New(Config{Roots: []string{root}}, rec.record, testLogger(), nil)
	require.NoError(t, err)
	w.Start()

	assert.NoError(t, w.Stop())
}

func TestWatcher_MissingRootFails(t *testing.T) {
	_, err := New(Config{Roots: []string{"/nonexistent/assets"}}, func(string) {}, testLogger(), nil)
	assert.Error(t, err)
}
