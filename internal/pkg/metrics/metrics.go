// Package metrics exposes the gateway's Prometheus collectors.
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

const namespace = "storage_gateway"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload outcomes by backend type",
		},
		[]string{"backend", "result"},
	)

	bytesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_stored_total",
			Help:      "Bytes written to storage backends",
		},
		[]string{"backend"},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download outcomes by backend type",
		},
		[]string{"backend", "result"},
	)

	backendOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_operation_duration_seconds",
			Help:      "Storage backend operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	backendOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_operations_total",
			Help:      "Storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	chunkSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_sessions_total",
			Help:      "Chunked upload session transitions",
		},
		[]string{"event"},
	)

	chunksUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_uploaded_total",
			Help:      "Accepted chunk writes",
		},
	)

	nodeUsedRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_used_ratio",
			Help:      "Used capacity ratio per storage node",
		},
		[]string{"node", "backend"},
	)

	nodeUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_up",
			Help:      "1 if the last health probe succeeded",
		},
		[]string{"node", "backend"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events handed to the event bus",
		},
		[]string{"event", "status"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request count and latency by matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordUpload records one upload outcome: stored, deduplicated or failed.
func RecordUpload(backend, result string, bytes int64) {
	uploadsTotal.WithLabelValues(backend, result).Inc()
	if result == "stored" && bytes > 0 {
		bytesStored.WithLabelValues(backend).Add(float64(bytes))
	}
}

// RecordDownload records one download outcome.
func RecordDownload(backend string, success bool) {
	downloadsTotal.WithLabelValues(backend, status(success)).Inc()
}

// RecordBackendOperation records a single adapter call.
func RecordBackendOperation(backend, op string, d time.Duration, err error) {
	backendOpDuration.WithLabelValues(backend, op).Observe(d.Seconds())
	backendOpsTotal.WithLabelValues(backend, op, status(err == nil)).Inc()
}

// RecordChunkSession records a session transition: initiated, completed, cancelled, expired.
func RecordChunkSession(event string) {
	chunkSessionsTotal.WithLabelValues(event).Inc()
}

// RecordChunk counts an accepted chunk.
func RecordChunk() {
	chunksUploaded.Inc()
}

// SetNodeUsage publishes the used ratio of a node.
func SetNodeUsage(node, backend string, ratio float64) {
	nodeUsedRatio.WithLabelValues(node, backend).Set(ratio)
}

// SetNodeUp publishes a node's last probe result.
func SetNodeUp(node, backend string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	nodeUp.WithLabelValues(node, backend).Set(v)
}

// RecordEvent records an event publish attempt.
func RecordEvent(event string, err error) {
	eventsPublished.WithLabelValues(event, status(err == nil)).Inc()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
