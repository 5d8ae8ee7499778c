// Package metrics exposes Prometheus collectors for the analysis service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	analysisJobsTotal          *prometheus.CounterVec
	analysisURLsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitRejectionsTotal   *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		analysisJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchlens_jobs_total",
				Help: "Total number of analysis jobs processed, labeled by terminal status.",
			},
			[]string{"status"},
		)

		analysisURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchlens_urls_total",
				Help: "Total number of URLs analyzed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitRejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchlens_rate_limit_rejections_total",
				Help: "Total number of requests rejected by the rate limiter, labeled by route class.",
			},
			[]string{"class"},
		)
	})
}

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one completed HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob counts a job reaching a terminal status.
func ObserveJob(status string) {
	if analysisJobsTotal == nil {
		return
	}
	analysisJobsTotal.WithLabelValues(status).Inc()
}

// ObserveURL counts one analyzed URL by outcome.
func ObserveURL(outcome string) {
	if analysisURLsTotal == nil {
		return
	}
	analysisURLsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitRejection counts a 429 for a route class.
func ObserveRateLimitRejection(class string) {
	if rateLimitRejectionsTotal == nil {
		return
	}
	rateLimitRejectionsTotal.WithLabelValues(class).Inc()
}
