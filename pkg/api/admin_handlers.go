package api

import (
	"net/http"

	"github.com/crunchhq/crunch/pkg/httputil"
	"github.com/crunchhq/crunch/pkg/observability"
)

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Clear(r.Context()); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	observability.FromContext(r.Context()).Info("bundle cache cleared")
	httputil.WriteNoContent(w)
}

func (s *Server) invalidatePath(w http.ResponseWriter, r *http.Request) {
	path := httputil.ParseQueryString(r, "path", "")
	if path == "" {
		httputil.WriteBadRequest(w, "path query parameter is required")
		return
	}

	invalidated := s.cache.InvalidateByPath(r.Context(), path)
	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"path":        path,
		"invalidated": invalidated,
	}).Info("invalidated cache entries")

	httputil.WriteSuccess(w, map[string]interface{}{
		"path":        path,
		"invalidated": invalidated,
	})
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	httputil.WriteSuccess(w, map[string]interface{}{
		"hits":          stats.Hits,
		"misses":        stats.Misses,
		"hit_rate":      stats.HitRate,
		"item_count":    stats.ItemCount,
		"tracked_paths": s.cache.TrackedPaths(),
	})
}
