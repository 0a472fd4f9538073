// Package metrics provides Prometheus metrics for the treemirror daemon.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fruitsalade/treemirror/pkg/tree"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treemirror_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treemirror_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Update metrics
	updatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treemirror_updates_total",
			Help: "Updates received from the source, by operation and result",
		},
		[]string{"op", "result"},
	)

	updateFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treemirror_update_failures_total",
			Help: "Dropped updates by failure reason",
		},
		[]string{"reason"},
	)

	updateApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "treemirror_update_apply_seconds",
			Help:    "Time spent applying one update under the write lock",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		},
	)

	// Tree metrics
	treeEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "treemirror_tree_entries",
			Help: "Number of mirrored entries by kind",
		},
		[]string{"kind"},
	)

	treeVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "treemirror_tree_version",
			Help: "Number of updates applied to the tree",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "treemirror_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treemirror_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	sseEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treemirror_sse_events_dropped_total",
			Help: "SSE events dropped for slow subscribers",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordUpdate records the outcome of one update. It has the shape of
// tree.Observer.
func RecordUpdate(r tree.Result) {
	result := "applied"
	if r.Err != nil {
		result = "failed"
		updateFailuresTotal.WithLabelValues(FailureReason(r.Err)).Inc()
	} else {
		treeVersion.Set(float64(r.Version))
	}
	updatesTotal.WithLabelValues(r.Update.Op(), result).Inc()
	updateApplyDuration.Observe(r.Duration.Seconds())
}

// FailureReason maps an update error to a low-cardinality label.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, tree.ErrPathNotFound):
		return "path_not_found"
	case errors.Is(err, tree.ErrInvalidIntermediate):
		return "invalid_intermediate"
	case errors.Is(err, tree.ErrNameMismatch):
		return "name_mismatch"
	case errors.Is(err, tree.ErrInvalidEntry):
		return "invalid_entry"
	case errors.Is(err, tree.ErrEmptyPath):
		return "empty_path"
	default:
		return "other"
	}
}

// SetTreeSize sets the mirrored entry counts.
func SetTreeSize(files, dirs int) {
	treeEntries.WithLabelValues("file").Set(float64(files))
	treeEntries.WithLabelValues("dir").Set(float64(dirs))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordSSEDrop records an event dropped for a slow subscriber.
func RecordSSEDrop() {
	sseEventsDropped.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. It must
// wrap the ServeMux directly so the matched route pattern is available as
// the path label.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
