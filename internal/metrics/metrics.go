// Package metrics provides Prometheus metrics for the records SDK and backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Client-side query metrics
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celerix_records_queries_total",
			Help: "Total number of record queries by data mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "celerix_records_query_duration_seconds",
			Help:    "Record query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Bulk import metrics
	importsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celerix_records_imports_total",
			Help: "Total number of bulk imports by status",
		},
		[]string{"status"},
	)

	importBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "celerix_records_import_bytes_total",
			Help: "Total bytes downloaded by bulk imports",
		},
	)

	importDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "celerix_records_import_duration_seconds",
			Help:    "Bulk import duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	snapshotRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "celerix_records_snapshot_records",
			Help: "Number of records held by the in-memory snapshot",
		},
	)

	staleRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "celerix_records_stale_rejections_total",
			Help: "Queries refused because the snapshot was stale",
		},
	)

	// Backend HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celerix_records_http_requests_total",
			Help: "Total number of HTTP requests served by the backend",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "celerix_records_http_request_duration_seconds",
			Help:    "Backend HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordQuery records one query served in the given mode.
func RecordQuery(mode, outcome string, d time.Duration) {
	queriesTotal.WithLabelValues(mode, outcome).Inc()
	queryDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordImport records a finished bulk import.
func RecordImport(status string, bytes int64, d time.Duration) {
	importsTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		importBytes.Add(float64(bytes))
	}
	importDuration.Observe(d.Seconds())
}

// SetSnapshotRecords sets the size of the installed snapshot (0 when none).
func SetSnapshotRecords(n int) {
	snapshotRecords.Set(float64(n))
}

// RecordStaleRejection counts a query refused on a stale snapshot.
func RecordStaleRejection() {
	staleRejections.Inc()
}

// Middleware returns gin middleware that records request metrics.
// Paths are labelled by route template to keep cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
