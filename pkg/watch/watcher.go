package watch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crunchhq/crunch/pkg/observability"
)

// DefaultDebounce is how long a path must stay quiet before its change is
// reported. Editors and build tools write files in bursts; each burst
// should cost one invalidation, not one per write.
const DefaultDebounce = 250 * time.Millisecond

// Config controls the watcher.
type Config struct {
	// Roots are the directory trees to watch recursively.
	Roots []string

	// Debounce is the per-path quiet period. Zero means DefaultDebounce.
	Debounce time.Duration
}

// Watcher watches asset roots recursively and reports changed file paths
// after a debounce window. New directories created under a root are picked
// up automatically.
type Watcher struct {
	cfg      Config
	watcher  *fsnotify.Watcher
	onChange func(path string)
	logger   *observability.Logger
	metrics  *observability.Metrics

	mu     sync.Mutex
	timers map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher that calls onChange with the absolute path of every
// settled file change under the configured roots.
func New(cfg Config, onChange func(path string), logger *observability.Logger, metrics *observability.Metrics) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:      cfg,
		watcher:  fsw,
		onChange: onChange,
		logger:   logger,
		metrics:  metrics,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}

	for _, root := range cfg.Roots {
		if err := w.addRecursive(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// addRecursive adds root and every directory below it to the watcher.
func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// Start begins processing filesystem events until Stop is called.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
	w.logger.WithField("roots", w.cfg.Roots).Info("watching asset roots for changes")
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("filesystem watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if w.metrics != nil {
		w.metrics.WatchEventsTotal.WithLabelValues(event.Op.String()).Inc()
	}

	// New directories join the watch set so files created inside them are
	// seen too.
	if event.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.WithError(err).WithField("dir", event.Name).
					Warn("failed to watch new directory")
			}
			return
		}
	}

	w.debounce(filepath.Clean(event.Name))
}

// debounce restarts the path's quiet-period timer. The change is reported
// once the path has been untouched for the full window.
func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.cfg.Debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		w.logger.WithField("path", path).Debug("asset changed")
		w.onChange(path)
	})
}

// Stop shuts the watcher down and cancels pending debounce timers.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	return err
}
