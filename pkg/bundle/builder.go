package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/crunchhq/crunch/pkg/cache"
	"github.com/crunchhq/crunch/pkg/fetch"
	"github.com/crunchhq/crunch/pkg/fingerprint"
	"github.com/crunchhq/crunch/pkg/observability"
	"github.com/crunchhq/crunch/pkg/publish"
	"github.com/crunchhq/crunch/pkg/transform"
)

// remoteFetchLimit bounds concurrent remote prefetches within one build.
const remoteFetchLimit = 4

// Config holds the builder's filesystem policy.
type Config struct {
	// CSSRoots and JSRoots are the search roots per pipeline, in lookup
	// order.
	CSSRoots []string
	JSRoots  []string

	// AllowedExtensions restricts which local files may be bundled, per
	// kind. Nil gets DefaultAllowedExtensions.
	AllowedExtensions map[Kind][]string

	// PublishTimeout bounds the background physical publish of a built
	// bundle. Zero means 30 seconds.
	PublishTimeout time.Duration
}

// DefaultAllowedExtensions returns the stock extension allow-list.
func DefaultAllowedExtensions() map[Kind][]string {
	return map[Kind][]string{
		KindCSS: {".css", ".less", ".scss", ".sass"},
		KindJS:  {".js", ".mjs", ".coffee"},
	}
}

func (c Config) rootsFor(kind Kind) []string {
	if kind == KindJS {
		return c.JSRoots
	}
	return c.CSSRoots
}

// Options carries the builder's collaborators. Cache is required; a nil
// Fetcher disables remote resources, and the rest default sensibly.
type Options struct {
	Cache      *cache.BundleCache
	Fetcher    *fetch.Fetcher
	Flight     *cache.Coordinator
	Transforms *transform.Registry
	Minifier   transform.Minifier
	Publisher  publish.Publisher
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// Builder orchestrates bundle production: loads local and remote resources
// in caller order, inlines imports, applies transforms, minifies, and
// serves/stores results through the bundle cache under single-flight
// protection.
type Builder struct {
	cfg        Config
	resolver   *Resolver
	transforms *transform.Registry
	minifier   transform.Minifier
	fetcher    *fetch.Fetcher
	cache      *cache.BundleCache
	flight     *cache.Coordinator
	publisher  publish.Publisher
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config, opts Options) *Builder {
	if cfg.AllowedExtensions == nil {
		cfg.AllowedExtensions = DefaultAllowedExtensions()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}
	if opts.Flight == nil {
		opts.Flight = cache.NewCoordinator()
	}
	if opts.Minifier == nil {
		opts.Minifier = transform.NewDefaultMinifier()
	}
	if opts.Transforms == nil {
		opts.Transforms = transform.NewRegistry(nil)
	}

	return &Builder{
		cfg:        cfg,
		resolver:   NewResolver(cfg.CSSRoots, cfg.JSRoots, opts.Logger),
		transforms: opts.Transforms,
		minifier:   opts.Minifier,
		fetcher:    opts.Fetcher,
		cache:      opts.Cache,
		flight:     opts.Flight,
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     observability.Tracer("crunch/bundle"),
	}
}

// cacheKey composes the full cache key: the pipeline kind and minify flag
// are part of a bundle's identity alongside the ordered identifier
// fingerprint.
func cacheKey(kind Kind, minify bool, identifiers []string) string {
	return fmt.Sprintf("%s:%s:min=%t", kind, fingerprint.Key(identifiers), minify)
}

func resultFromEntry(entry *cache.Entry, fromCache bool) *Result {
	return &Result{
		Content:      entry.Content,
		ContentHash:  entry.ContentHash,
		Dependencies: entry.Dependencies,
		FromCache:    fromCache,
	}
}

// GetOrBuildBundle is the single entry point the HTTP layer calls. It
// either returns content or a typed error, never a silent blank result.
func (b *Builder) GetOrBuildBundle(ctx context.Context, identifiers []string, kind Kind, minify bool) (*Result, error) {
	if len(identifiers) == 0 {
		return nil, newError(KindNotFound, "", errors.New("empty resource list"))
	}

	key := cacheKey(kind, minify, identifiers)
	ctx, span := b.tracer.Start(ctx, "bundle.GetOrBuildBundle", trace.WithAttributes(
		attribute.String("bundle.kind", string(kind)),
		attribute.String("bundle.key", key),
		attribute.Int("bundle.resources", len(identifiers)),
	))
	defer span.End()

	if entry, err := b.cache.Get(ctx, key); err == nil {
		span.SetAttributes(attribute.Bool("bundle.cache_hit", true))
		return resultFromEntry(entry, true), nil
	}
	span.SetAttributes(attribute.Bool("bundle.cache_hit", false))

	// built stays false for flight followers (their closure never runs)
	// and for a leader whose re-check found the entry already stored.
	var built bool
	entry, _, err := b.flight.Execute(ctx, key, func(ctx context.Context) (*cache.Entry, error) {
		// Another caller may have stored the entry between our lookup and
		// winning the flight lock.
		if entry, err := b.cache.Get(ctx, key); err == nil {
			return entry, nil
		}
		built = true
		return b.buildAndStore(ctx, key, identifiers, kind, minify)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return resultFromEntry(entry, !built), nil
}

func (b *Builder) buildAndStore(ctx context.Context, key string, identifiers []string, kind Kind, minify bool) (*cache.Entry, error) {
	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "bundle.build")
	defer span.End()

	content, tracker, err := b.build(ctx, identifiers, kind, minify)
	if err != nil {
		if b.metrics != nil {
			b.metrics.BuildsTotal.WithLabelValues(string(kind), "error").Inc()
		}
		span.RecordError(err)
		return nil, err
	}

	entry := &cache.Entry{
		Key:          key,
		Content:      content,
		ContentHash:  fingerprint.Content([]byte(content)),
		Dependencies: tracker.Contents(),
		CreatedAt:    time.Now(),
	}
	if err := b.cache.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("store bundle %s: %w", key, err)
	}

	duration := time.Since(start)
	if b.metrics != nil {
		b.metrics.BuildsTotal.WithLabelValues(string(kind), "ok").Inc()
		b.metrics.BuildDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
		b.metrics.BundleSize.WithLabelValues(string(kind)).Observe(float64(len(content)))
	}
	b.logger.WithFields(map[string]interface{}{
		"kind":         string(kind),
		"resources":    len(identifiers),
		"dependencies": len(entry.Dependencies),
		"bytes":        len(content),
		"duration_ms":  duration.Milliseconds(),
	}).Info("built bundle")

	b.publishAsync(entry, kind)
	return entry, nil
}

// build produces the concatenated bundle text and its dependency set.
// Remote resources are prefetched in parallel; concatenation order is
// exactly the caller-supplied order regardless of fetch completion order.
func (b *Builder) build(ctx context.Context, identifiers []string, kind Kind, minify bool) (string, *Tracker, error) {
	tracker := NewTracker()
	pieces := make([]string, len(identifiers))

	remote := make(map[int]string)
	for i, id := range identifiers {
		if url, ok := b.remoteURL(id); ok {
			remote[i] = url
		}
	}

	if len(remote) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(remoteFetchLimit)
		for i, url := range remote {
			i, url := i, url
			g.Go(func() error {
				text, err := b.fetchRemote(gctx, url)
				if err != nil {
					return err
				}
				pieces[i] = text
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", nil, err
		}
	}

	for i, id := range identifiers {
		if _, ok := remote[i]; ok {
			continue
		}
		text, err := b.loadLocal(ctx, kind, id, tracker)
		if err != nil {
			return "", nil, err
		}
		pieces[i] = text
	}

	content := strings.Join(pieces, "\n")

	if minify {
		minified, err := b.minifier.Minify(ctx, content, kind.ContentType())
		if err != nil {
			return "", nil, newError(KindTransformFailed, strings.Join(identifiers, ","), err)
		}
		content = minified
	}
	return content, tracker, nil
}

// fetchRemote applies the split failure policy: a policy rejection (too
// large, not allow-listed) fails the whole build; a network failure
// degrades to empty content so one unreachable host does not take the
// bundle down with it.
func (b *Builder) fetchRemote(ctx context.Context, url string) (string, error) {
	if b.fetcher == nil {
		return "", newError(KindRemoteFetchRejected, url, errors.New("remote fetch disabled"))
	}
	start := time.Now()
	text, err := b.fetcher.Fetch(ctx, url)
	if b.metrics != nil {
		b.metrics.RemoteFetchDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if fetch.IsPolicyError(err) {
			if b.metrics != nil {
				b.metrics.RemoteFetchTotal.WithLabelValues("rejected").Inc()
			}
			return "", newError(KindRemoteFetchRejected, url, err)
		}
		b.logger.WithError(err).WithField("url", url).
			Warn("remote resource unavailable, contributing empty content")
		if b.metrics != nil {
			b.metrics.RemoteFetchTotal.WithLabelValues("error").Inc()
		}
		return "", nil
	}
	if b.metrics != nil {
		b.metrics.RemoteFetchTotal.WithLabelValues("ok").Inc()
	}
	return text, nil
}

// remoteURL classifies an identifier: an allow-list token resolves to its
// configured URL, a literal URL is remote as-is, anything else is local.
func (b *Builder) remoteURL(id string) (string, bool) {
	if b.fetcher != nil {
		if url, ok := b.fetcher.ResolveToken(id); ok {
			return url, true
		}
	}
	if isRemoteTarget(id) {
		if strings.HasPrefix(id, "//") {
			return "https:" + id, true
		}
		return id, true
	}
	return "", false
}

func (b *Builder) loadLocal(ctx context.Context, kind Kind, name string, tracker *Tracker) (string, error) {
	path, info, err := b.resolvePath(kind, name)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return b.loadDirectory(ctx, kind, path, tracker)
	}
	return b.loadFile(ctx, kind, path, tracker)
}

// resolvePath maps a requested name to a concrete path under the kind's
// search roots. Escaping the roots or carrying a disallowed extension is a
// security rejection, not a skip.
func (b *Builder) resolvePath(kind Kind, name string) (string, fs.FileInfo, error) {
	roots := b.cfg.rootsFor(kind)

	if filepath.IsAbs(name) {
		clean := filepath.Clean(name)
		if !underAnyRoot(roots, clean) {
			return "", nil, newError(KindAccessDenied, name, errors.New("path escapes configured roots"))
		}
		info, err := os.Stat(clean)
		if err != nil {
			return "", nil, newError(KindNotFound, name, err)
		}
		if !info.IsDir() && !b.extensionAllowed(kind, clean) {
			return "", nil, newError(KindAccessDenied, name, fmt.Errorf("extension %q not allowed", filepath.Ext(clean)))
		}
		return clean, info, nil
	}

	for _, root := range roots {
		cleanRoot := filepath.Clean(root)
		clean := filepath.Clean(filepath.Join(cleanRoot, name))
		if !strings.HasPrefix(clean, cleanRoot+string(filepath.Separator)) {
			return "", nil, newError(KindAccessDenied, name, errors.New("path escapes configured roots"))
		}
		info, err := os.Stat(clean)
		if err != nil {
			continue
		}
		if !info.IsDir() && !b.extensionAllowed(kind, clean) {
			return "", nil, newError(KindAccessDenied, name, fmt.Errorf("extension %q not allowed", filepath.Ext(clean)))
		}
		return clean, info, nil
	}
	return "", nil, newError(KindNotFound, name, errors.New("no search root contains the resource"))
}

func underAnyRoot(roots []string, path string) bool {
	for _, root := range roots {
		cleanRoot := filepath.Clean(root)
		if path == cleanRoot || strings.HasPrefix(path, cleanRoot+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (b *Builder) extensionAllowed(kind Kind, path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range b.cfg.AllowedExtensions[kind] {
		if ext == allowed {
			return true
		}
	}
	return false
}

// loadDirectory bundles every allowed file below dir in lexical walk
// order. Files with other extensions are skipped, not rejected: the caller
// asked for the directory, not a specific file.
func (b *Builder) loadDirectory(ctx context.Context, kind Kind, dir string, tracker *Tracker) (string, error) {
	var pieces []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !b.extensionAllowed(kind, path) {
			return nil
		}
		text, err := b.loadFile(ctx, kind, path, tracker)
		if err != nil {
			return err
		}
		pieces = append(pieces, text)
		return nil
	})
	if err != nil {
		var be *Error
		if errors.As(err, &be) {
			return "", err
		}
		return "", newError(KindNotFound, dir, err)
	}
	return strings.Join(pieces, "\n"), nil
}

// loadFile reads one concrete file, inlines its imports, and applies any
// registered transform for its extension.
func (b *Builder) loadFile(ctx context.Context, kind Kind, path string, tracker *Tracker) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", newError(KindNotFound, path, err)
	}
	tracker.Add(path)

	text, err := b.resolver.Resolve(kind, string(data), path, tracker)
	if err != nil {
		return "", err
	}

	if tr := b.transforms.ForPath(path); tr != nil {
		out, extraFiles, err := tr.Transform(ctx, text, path)
		if err != nil {
			return "", newError(KindTransformFailed, path, err)
		}
		for _, f := range extraFiles {
			tracker.Add(f)
		}
		text = out
	}
	return text, nil
}

// publishAsync hands the finished bundle to the physical publisher without
// blocking the request. Failures are logged, never surfaced.
func (b *Builder) publishAsync(entry *cache.Entry, kind Kind) {
	if b.publisher == nil {
		return
	}
	objectName := fmt.Sprintf("%s.%s", entry.ContentHash, kind)
	content := []byte(entry.Content)
	contentType := kind.ContentType()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.PublishTimeout)
		defer cancel()

		status := "ok"
		if err := b.publisher.Publish(ctx, objectName, content, contentType); err != nil {
			status = "error"
			b.logger.WithError(err).WithField("object", objectName).
				Warn("failed to publish bundle to asset store")
		}
		if b.metrics != nil {
			b.metrics.PublishTotal.WithLabelValues(b.publisher.Name(), status).Inc()
		}
	}()
}
