package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crunchhq/crunch/pkg/bundle"
	"github.com/crunchhq/crunch/pkg/cache"
	"github.com/crunchhq/crunch/pkg/httputil"
	"github.com/crunchhq/crunch/pkg/observability"
)

// Bundler produces bundles for the asset endpoints.
type Bundler interface {
	GetOrBuildBundle(ctx context.Context, identifiers []string, kind bundle.Kind, minify bool) (*bundle.Result, error)
}

// CacheAdmin is the slice of the bundle cache the admin endpoints need.
type CacheAdmin interface {
	Clear(ctx context.Context) error
	InvalidateByPath(ctx context.Context, path string) int
	Stats() cache.Stats
	TrackedPaths() int
}

// Server represents the asset API server.
type Server struct {
	bundler Bundler
	cache   CacheAdmin
	router  *mux.Router
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewServer creates the API server and wires its routes.
func NewServer(bundler Bundler, cacheAdmin CacheAdmin, logger *observability.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		bundler: bundler,
		cache:   cacheAdmin,
		router:  mux.NewRouter(),
		logger:  logger,
		metrics: metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes.
func (s *Server) setupRoutes() {
	// Asset routes
	s.router.HandleFunc("/assets/css", s.instrumented("/assets/css", s.handleCSS)).Methods("GET", "HEAD")
	s.router.HandleFunc("/assets/js", s.instrumented("/assets/js", s.handleJS)).Methods("GET", "HEAD")

	// Admin routes
	s.router.HandleFunc("/admin/cache/clear", s.clearCache).Methods("POST")
	s.router.HandleFunc("/admin/cache/invalidate", s.invalidatePath).Methods("POST")
	s.router.HandleFunc("/admin/cache/stats", s.cacheStats).Methods("GET")

	s.router.HandleFunc("/healthz", s.health).Methods("GET")
}

// instrumented wraps a handler with per-route HTTP metrics.
func (s *Server) instrumented(path string, h http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return h
	}
	wrapped := s.metrics.InstrumentHandler(path, h)
	return wrapped.ServeHTTP
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the server wrapped in the standard middleware chain.
func (s *Server) Handler() http.Handler {
	return httputil.Chain(
		httputil.RequestIDMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
	)(s)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}
