package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crunchhq/crunch/pkg/cache"
)

func TestClearCache(t *testing.T) {
	fc := &fakeCacheAdmin{}
	s := newTestServer(&fakeBundler{}, fc)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, fc.cleared)
}

func TestClearCache_Error(t *testing.T) {
	fc := &fakeCacheAdmin{clearErr: errors.New("redis unavailable")}
	s := newTestServer(&fakeBundler{}, fc)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClearCache_GetNotAllowed(t *testing.T) {
	s := newTestServer(&fakeBundler{}, &fakeCacheAdmin{})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/cache/clear", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestInvalidatePath(t *testing.T) {
	fc := &fakeCacheAdmin{}
	s := newTestServer(&fakeBundler{}, fc)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate?path=/srv/css/a.css", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fc.invalidated["/srv/css/a.css"])
	assert.JSONEq(t, `{"path":"/srv/css/a.css","invalidated":2}`, rec.Body.String())
}

func TestInvalidatePath_RequiresPath(t *testing.T) {
	s := newTestServer(&fakeBundler{}, &fakeCacheAdmin{})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheStats(t *testing.T) {
	fc := &fakeCacheAdmin{
		stats:   cache.Stats{Hits: 10, Misses: 5, HitRate: 0.6666666666666666, ItemCount: 3},
		tracked: 7,
	}
	s := newTestServer(&fakeBundler{}, fc)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/cache/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hits":10,"misses":5,"hit_rate":0.6666666666666666,"item_count":3,"tracked_paths":7}`, rec.Body.String())
}
