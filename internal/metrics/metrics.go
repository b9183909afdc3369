// Package metrics provides Prometheus metrics for the sync server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tig_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "pattern", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tig_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "pattern"},
	)

	// Chunk transfer metrics
	chunkBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tig_lfs_chunk_bytes_total",
			Help: "Total LFS chunk bytes moved through the server",
		},
		[]string{"direction"},
	)

	chunksMissingTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tig_lfs_chunks_missing_total",
			Help: "Chunks reported missing by has checks",
		},
	)

	// Sync metrics
	commitsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tig_sync_commits_received_total",
			Help: "Commits written by push requests",
		},
	)

	pushConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tig_sync_push_conflicts_total",
			Help: "Commits rejected by push because they already exist",
		},
	)

	lockOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tig_lock_operations_total",
			Help: "Lock and unlock requests",
		},
		[]string{"operation"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tig_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Backend metrics
	backendOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tig_backend_operation_duration_seconds",
			Help:    "Object backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	backendOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tig_backend_operations_total",
			Help: "Total object backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	refCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tig_ref_cache_lookups_total",
			Help: "Branch ref cache lookups",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, pattern string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, pattern).Observe(duration.Seconds())
}

// RecordChunkTransfer records chunk bytes; direction is "upload" or "download".
func RecordChunkTransfer(direction string, bytes int) {
	chunkBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordMissingChunks counts chunks a has check reported missing.
func RecordMissingChunks(n int) {
	chunksMissingTotal.Add(float64(n))
}

// RecordPush records the outcome of a push request.
func RecordPush(written, conflicts int) {
	commitsReceivedTotal.Add(float64(written))
	pushConflictsTotal.Add(float64(conflicts))
}

// RecordLockOperation records a lock or unlock.
func RecordLockOperation(operation string) {
	lockOperationsTotal.WithLabelValues(operation).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordBackendOperation records an object backend call.
func RecordBackendOperation(backend, operation string, duration time.Duration, success bool) {
	backendOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	backendOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordRefCache records a ref cache hit or miss.
func RecordRefCache(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	refCacheTotal.WithLabelValues(result).Inc()
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

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by the matched mux pattern to keep label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		RecordHTTPRequest(r.Method, pattern, rw.statusCode, time.Since(start))
	})
}
