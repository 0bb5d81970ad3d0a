// Package metrics provides Prometheus metrics for the tenantfs server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantfs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantfs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// File operation metrics
	fileOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantfs_file_operations_total",
			Help: "Total filesystem verb invocations",
		},
		[]string{"verb", "code"},
	)

	fileOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantfs_file_operation_duration_seconds",
			Help:    "Filesystem verb duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	// Transaction metrics
	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantfs_transactions_total",
			Help: "Units of work by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	transactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantfs_transaction_duration_seconds",
			Help:    "Unit of work duration from connect to release",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantfs_active_sessions",
			Help: "Number of sessions currently holding a connection",
		},
	)

	// Tenant metrics
	tenantLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantfs_tenant_lookups_total",
			Help: "Tenant namespace lookups by cache result",
		},
		[]string{"result"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantfs_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantfs_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantfs_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Event metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantfs_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantfs_events_total",
			Help: "Total change events published",
		},
		[]string{"type"},
	)

	permissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantfs_permission_checks_total",
			Help: "Total permission derivations by access level",
		},
		[]string{"level"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantfs_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordFileOperation records one verb invocation. code is "OK" on success.
func RecordFileOperation(verb, code string, duration time.Duration) {
	fileOpsTotal.WithLabelValues(verb, code).Inc()
	fileOpDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RecordTransaction records the outcome of a unit of work.
func RecordTransaction(mode, outcome string, duration time.Duration) {
	transactionsTotal.WithLabelValues(mode, outcome).Inc()
	transactionDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// SessionOpened increments the active session gauge.
func SessionOpened() {
	activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func SessionClosed() {
	activeSessions.Dec()
}

// RecordTenantLookup records a tenant cache hit or miss.
func RecordTenantLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	tenantLookupsTotal.WithLabelValues(result).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordEvent records a change event publication.
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordPermissionCheck records a derived access level.
func RecordPermissionCheck(level string) {
	permissionChecksTotal.WithLabelValues(level).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
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

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, Route(r.URL.Path), rw.statusCode, time.Since(start))
	})
}

// Route truncates a request path to its first four segments so virtual
// filesystem paths do not become label values. WebDAV paths collapse to
// the mount point.
func Route(path string) string {
	if path == "/webdav" || strings.HasPrefix(path, "/webdav/") {
		return "/webdav"
	}
	n := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			n++
			if n == 5 {
				return path[:i]
			}
		}
	}
	return path
}
