// Package metrics exposes Prometheus collectors for the HTTP surface and the photo workflow.
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

const unmatchedRoute = "unmatched"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorial_http_requests_total",
			Help: "HTTP requests served, by route template and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memorial_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	photosStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorial_photos_stored_total",
			Help: "Photos written to the file store, by resolved upload intent.",
		},
		[]string{"intent"},
	)

	photosDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorial_photos_denied_total",
			Help: "Photos refused by the archive quota, by resolved upload intent.",
		},
		[]string{"intent"},
	)

	extensionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorial_photo_extensions_total",
			Help: "Archive extension attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	changeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorial_change_requests_total",
			Help: "Change requests recorded, by the store that accepted them.",
		},
		[]string{"store"},
	)
)

// Middleware records request counts and latency keyed by the gin route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePhotoBatch records how many photos were stored and denied for one batch.
func ObservePhotoBatch(intent string, stored, denied int) {
	if stored > 0 {
		photosStoredTotal.WithLabelValues(intent).Add(float64(stored))
	}
	if denied > 0 {
		photosDeniedTotal.WithLabelValues(intent).Add(float64(denied))
	}
}

// ObserveExtension records one extension attempt.
func ObserveExtension(outcome string) {
	extensionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveChangeRequest records where a change request was stored.
func ObserveChangeRequest(store string) {
	changeRequestsTotal.WithLabelValues(store).Inc()
}
