package api

import (
	"fmt"
	"net/http"

	"github.com/crunchhq/crunch/pkg/bundle"
	"github.com/crunchhq/crunch/pkg/httputil"
	"github.com/crunchhq/crunch/pkg/observability"
)

func (s *Server) handleCSS(w http.ResponseWriter, r *http.Request) {
	s.serveBundle(w, r, bundle.KindCSS)
}

func (s *Server) handleJS(w http.ResponseWriter, r *http.Request) {
	s.serveBundle(w, r, bundle.KindJS)
}

// serveBundle answers GET /assets/{kind}?files=a,b,c&minify=true with the
// built bundle, an ETag derived from the content fingerprint, and 304 on a
// matching If-None-Match.
func (s *Server) serveBundle(w http.ResponseWriter, r *http.Request, kind bundle.Kind) {
	files := httputil.ParseQueryList(r, "files")
	if len(files) == 0 {
		httputil.WriteBadRequest(w, "files query parameter is required")
		return
	}

	minify, err := httputil.ParseQueryBool(r, "minify", true)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := s.bundler.GetOrBuildBundle(r.Context(), files, kind, minify)
	if err != nil {
		s.writeBundleError(w, r, err)
		return
	}

	etag := fmt.Sprintf(`"%s"`, result.ContentHash)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("Content-Type", kind.ContentType())

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write([]byte(result.Content))
	}
}

// writeBundleError maps the bundle error taxonomy onto HTTP status codes.
func (s *Server) writeBundleError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.FromContext(r.Context()).WithError(err)

	switch bundle.KindOf(err) {
	case bundle.KindNotFound:
		logger.Debug("bundle resource not found")
		httputil.WriteNotFoundError(w, err.Error())
	case bundle.KindAccessDenied:
		logger.Warn("bundle resource access denied")
		httputil.WriteErrorMessage(w, http.StatusForbidden, err.Error())
	case bundle.KindRemoteFetchRejected:
		logger.Warn("remote resource rejected by policy")
		httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
	case bundle.KindCircularImport, bundle.KindTransformFailed:
		logger.Error("bundle build failed")
		httputil.WriteInternalError(w, err)
	default:
		logger.Error("bundle build failed")
		httputil.WriteInternalError(w, err)
	}
}
