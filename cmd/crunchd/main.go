package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/crunchhq/crunch/pkg/api"
	"github.com/crunchhq/crunch/pkg/bundle"
	"github.com/crunchhq/crunch/pkg/cache"
	"github.com/crunchhq/crunch/pkg/config"
	"github.com/crunchhq/crunch/pkg/fetch"
	"github.com/crunchhq/crunch/pkg/observability"
	"github.com/crunchhq/crunch/pkg/publish"
	"github.com/crunchhq/crunch/pkg/watch"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"css_roots": cfg.Assets.CSSRoots,
		"js_roots":  cfg.Assets.JSRoots,
		"port":      cfg.Server.Port,
	}).Info("starting crunch asset server")

	ctx := context.Background()

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	bundleCache, err := cache.New(cache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		TTL:           cfg.Cache.TTL(),
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
	}, metrics, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize bundle cache")
		os.Exit(1)
	}

	fetcher := fetch.NewFetcher(fetch.Config{
		MaxBytes:     cfg.Remote.MaxBytes,
		Timeout:      cfg.Remote.Timeout,
		AllowRawURLs: cfg.Remote.AllowRawURLs,
		Tokens:       cfg.Assets.Tokens,
	}, nil, logger)

	publisher, err := newPublisher(ctx, cfg.Publish)
	if err != nil {
		logger.WithError(err).Error("failed to initialize bundle publisher")
		os.Exit(1)
	}
	if publisher != nil {
		logger.WithField("backend", publisher.Name()).Info("bundle publishing enabled")
	}

	builder := bundle.NewBuilder(bundle.Config{
		CSSRoots:       cfg.Assets.CSSRoots,
		JSRoots:        cfg.Assets.JSRoots,
		PublishTimeout: cfg.Publish.Timeout,
	}, bundle.Options{
		Cache:     bundleCache,
		Fetcher:   fetcher,
		Publisher: publisher,
		Logger:    logger,
		Metrics:   metrics,
	})

	server := api.NewServer(builder, bundleCache, logger, metrics)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return otelProviders.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return bundleCache.Close()
	})

	// Filesystem watcher drives path-based cache invalidation.
	if cfg.Watch.Enabled {
		roots := append(append([]string{}, cfg.Assets.CSSRoots...), cfg.Assets.JSRoots...)
		watcher, err := watch.New(watch.Config{
			Roots:    roots,
			Debounce: cfg.Watch.Debounce,
		}, func(path string) {
			invalidated := bundleCache.InvalidateByPath(context.Background(), path)
			if invalidated > 0 {
				logger.WithFields(map[string]interface{}{
					"path":        path,
					"invalidated": invalidated,
				}).Info("invalidated bundles for changed asset")
			}
		}, logger, metrics)
		if err != nil {
			logger.WithError(err).Error("failed to start asset watcher")
			os.Exit(1)
		}
		watcher.Start()
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return watcher.Stop()
		})
	}

	// Periodic cache index sweep and stats report.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Cache.SweepSchedule, func() {
		dropped := bundleCache.Sweep()
		stats := bundleCache.Stats()
		logger.WithFields(map[string]interface{}{
			"dropped":  dropped,
			"entries":  stats.ItemCount,
			"hit_rate": stats.HitRate,
		}).Info("cache sweep complete")
	}); err != nil {
		logger.WithError(err).Error("invalid cache sweep schedule")
		os.Exit(1)
	}
	scheduler.Start()
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
		case <-ctx.Done():
		}
		return nil
	})

	// Separate health/metrics listener for probes and scrapes.
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:        cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:     healthMux,
		ReadTimeout: 5 * time.Second,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})

	go func() {
		logger.Infof("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		os.Exit(1)
	}
}

// newPublisher builds the configured physical bundle publisher, or nil when
// publishing is disabled.
func newPublisher(ctx context.Context, cfg config.PublishConfig) (publish.Publisher, error) {
	switch cfg.Backend {
	case "filesystem":
		return publish.NewFileSystemPublisher(cfg.Directory)
	case "s3":
		return publish.NewS3Publisher(ctx, publish.S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		return nil, nil
	}
}
