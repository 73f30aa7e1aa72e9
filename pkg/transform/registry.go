package transform

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Transformer converts a preprocessor source (LESS, SCSS, CoffeeScript) into
// plain CSS or JavaScript. ExtraFiles reports files the compiler consumed
// opaquely (Sass resolves some imports itself); the builder folds them into
// the bundle's dependency set.
type Transformer interface {
	// Name identifies the transformer in logs.
	Name() string

	// Extensions lists the file extensions the transformer handles,
	// including the leading dot.
	Extensions() []string

	// Transform compiles source read from path. On failure the returned
	// error carries the original compiler diagnostic.
	Transform(ctx context.Context, source, path string) (output string, extraFiles []string, err error)
}

// Registry maps file extensions to transformers. Registration happens at
// startup; lookups happen on every build, so the map is guarded for
// concurrent reads after late plugin registration.
type Registry struct {
	mu     sync.RWMutex
	byExt  map[string]Transformer
	logger *logrus.Logger
}

// NewRegistry creates an empty transformer registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		byExt:  make(map[string]Transformer),
		logger: logger,
	}
}

// Register adds a transformer for each of its extensions. Registering a
// second transformer for an extension already taken is an error; the first
// registration wins deliberately.
func (r *Registry) Register(t Transformer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range t.Extensions() {
		ext = strings.ToLower(ext)
		if existing, ok := r.byExt[ext]; ok {
			return fmt.Errorf("extension %s already handled by %s", ext, existing.Name())
		}
		r.byExt[ext] = t
		r.logger.WithFields(logrus.Fields{
			"transformer": t.Name(),
			"extension":   ext,
		}).Info("Registered transformer")
	}
	return nil
}

// ForPath returns the transformer for path's extension, or nil when the
// file needs no transformation (plain CSS/JS).
func (r *Registry) ForPath(path string) Transformer {
	ext := strings.ToLower(filepath.Ext(path))
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byExt[ext]
}

// Extensions returns every registered extension, for diagnostics.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}
