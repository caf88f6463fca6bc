// Package metrics holds the Prometheus collectors of the key server.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/exposurekeys/keyserver/internal/common/httpx"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keyserver"

var (
	initOnce sync.Once

	// KeysInserted counts keys that passed the pipeline, by path (upload, federation).
	KeysInserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keys_inserted_total",
		Help:      "Keys handed to the store after the insertion pipeline",
	}, []string{"path"})

	// KeysDropped counts keys removed by a pipeline filter.
	KeysDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keys_dropped_total",
		Help:      "Keys silently dropped by an insertion filter",
	}, []string{"filter"})

	// KeysModified counts keys changed by a pipeline modifier.
	KeysModified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keys_modified_total",
		Help:      "Keys rewritten by an insertion modifier",
	}, []string{"modifier"})

	// BatchesRejected counts uploads rejected as a whole.
	BatchesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_rejected_total",
		Help:      "Key batches rejected by an insertion filter",
	}, []string{"filter"})

	FederationKeysDownloaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "federation_keys_downloaded_total",
		Help:      "Keys received from federation gateways",
	}, []string{"gateway"})

	FederationKeysUploaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "federation_keys_uploaded_total",
		Help:      "Keys confirmed by federation gateways",
	}, []string{"gateway"})

	FederationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "federation_errors_total",
		Help:      "Failed federation actions",
	}, []string{"gateway", "action"})

	SyncCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_cycle_duration_seconds",
		Help:      "Duration of a complete federation sync cycle",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	KeysCleanedUp = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keys_cleaned_up_total",
		Help:      "Keys deleted by retention cleanup",
	})

	ExportCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "export_cache_requests_total",
		Help:      "Export cache lookups by result",
	}, []string{"result"})

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Processed HTTP requests",
	}, []string{"method", "route", "status"})

	responseTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_time_milliseconds",
		Help:      "HTTP response time distribution",
		Buckets:   []float64{1, 10, 50, 100, 200, 300, 400, 500, 1000},
	}, []string{"method", "route"})
)

// InitMetrics registers all collectors with the default registry. Safe to call more
// than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			KeysInserted,
			KeysDropped,
			KeysModified,
			BatchesRejected,
			FederationKeysDownloaded,
			FederationKeysUploaded,
			FederationErrors,
			SyncCycleDuration,
			KeysCleanedUp,
			ExportCacheHits,
			requestsTotal,
			responseTime,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := httpx.NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		requestsTotal.WithLabelValues(r.Method, route, http.StatusText(rw.Status())).Inc()
		responseTime.WithLabelValues(r.Method, route).Observe(float64(time.Since(start).Milliseconds()))
	})
}
