package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	InitMetrics()
	InitMetrics()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/gaen/exposed/{keyDate}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	before := testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "/v1/gaen/exposed/{keyDate}", "No Content"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/gaen/exposed/1596240000000", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	after := testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "/v1/gaen/exposed/{keyDate}", "No Content"))
	assert.Equal(t, before+1, after)

	rec = httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "keyserver_http_requests_total")
}
