// Package metrics exposes Prometheus collectors for the archiver service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	capturesTotal              *prometheus.CounterVec
	captureDurationSeconds     prometheus.Histogram
	routesTotal                *prometheus.CounterVec
	resourcesTotal             *prometheus.CounterVec
	resourceBytesTotal         *prometheus.CounterVec
	resourceReadFailuresTotal  *prometheus.CounterVec
	rewriteFailuresTotal       *prometheus.CounterVec
	collisionsTotal            prometheus.Counter
	fingerprintsTotal          *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_captures_total",
				Help: "Total number of capture jobs finished, labeled by final status and target host.",
			},
			[]string{"status", "site"},
		)

		captureDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_capture_duration_seconds",
				Help:    "Wall-clock duration of capture runs.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
		)

		routesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_routes_total",
				Help: "Total number of route visits, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		resourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_resources_total",
				Help: "Total number of response bodies captured, labeled by resource type.",
			},
			[]string{"type"},
		)

		resourceBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_resource_bytes_total",
				Help: "Total number of body bytes captured, labeled by resource type.",
			},
			[]string{"type"},
		)

		resourceReadFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_resource_read_failures_total",
				Help: "Body reads that failed, labeled by benign or unexpected class.",
			},
			[]string{"class"},
		)

		rewriteFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_rewrite_failures_total",
				Help: "Files written without rewriting because rewriting failed, labeled by kind.",
			},
			[]string{"kind"},
		)

		collisionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_collisions_total",
				Help: "File and directory collisions resolved while materializing.",
			},
		)

		fingerprintsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_fingerprints_total",
				Help: "Fingerprint computations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_workers",
				Help: "Number of workers currently running a capture.",
			},
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
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCapture records a finished job against the target's host and, for
// completed runs, its duration.
func ObserveCapture(status, target string, duration time.Duration) {
	Init()
	capturesTotal.WithLabelValues(status, SanitizeSite(target)).Inc()
	if duration > 0 {
		captureDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveRoute counts a route visit outcome ("captured" or "abandoned").
func ObserveRoute(outcome string) {
	Init()
	routesTotal.WithLabelValues(outcome).Inc()
}

// ObserveResource counts a captured body and its size.
func ObserveResource(resourceType string, size int) {
	Init()
	resourcesTotal.WithLabelValues(resourceType).Inc()
	if size > 0 {
		resourceBytesTotal.WithLabelValues(resourceType).Add(float64(size))
	}
}

// ObserveReadFailure counts a failed body read.
func ObserveReadFailure(benign bool) {
	Init()
	class := "unexpected"
	if benign {
		class = "benign"
	}
	resourceReadFailuresTotal.WithLabelValues(class).Inc()
}

// ObserveRewriteFailure counts a file that fell back to raw bytes.
func ObserveRewriteFailure(kind string) {
	Init()
	rewriteFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveCollision counts a resolved path collision.
func ObserveCollision() {
	Init()
	collisionsTotal.Inc()
}

// ObserveFingerprint counts a fingerprint computation by outcome.
func ObserveFingerprint(outcome string) {
	Init()
	fingerprintsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
