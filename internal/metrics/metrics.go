// Package metrics exposes Prometheus collectors for the harvester service.
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
	relayAttemptsTotal          *prometheus.CounterVec
	relayAttemptDurationSeconds *prometheus.HistogramVec
	relayRateLimitDelaysSeconds *prometheus.HistogramVec
	pagesTotal                  *prometheus.CounterVec
	extractionRecordsTotal      *prometheus.CounterVec
	companiesTotal              prometheus.Counter
	jobsTotal                   *prometheus.CounterVec
	jobDurationSeconds          prometheus.Histogram
	activeJobs                  prometheus.Gauge
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	archiveFailuresTotal        prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		relayAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_relay_attempts_total",
				Help: "Relay fetch attempts, labeled by relay and outcome.",
			},
			[]string{"relay", "outcome"},
		)

		relayAttemptDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_relay_attempt_duration_seconds",
				Help:    "Histogram of relay attempt latencies.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"relay"},
		)

		relayRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_relay_rate_limit_delays_seconds",
				Help:    "Histogram of per-relay rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"relay"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Listing pages processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		extractionRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_extraction_records_total",
				Help: "Records produced by the extractor, labeled by strategy.",
			},
			[]string{"strategy"},
		)

		companiesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_companies_total",
				Help: "Companies persisted across all jobs.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Jobs finished, labeled by final status.",
			},
			[]string{"status"},
		)

		jobDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_job_duration_seconds",
				Help:    "Histogram of job wall-clock durations.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_jobs",
				Help: "1 while a scrape job holds the job slot.",
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

		archiveFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_archive_failures_total",
				Help: "Raw page archive writes that failed.",
			},
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

// ObserveRelayAttempt records one relay attempt.
func ObserveRelayAttempt(relay, outcome string, duration time.Duration) {
	Init()
	relayAttemptsTotal.WithLabelValues(relay, outcome).Inc()
	relayAttemptDurationSeconds.WithLabelValues(relay).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(relay string, duration time.Duration) {
	Init()
	relayRateLimitDelaysSeconds.WithLabelValues(relay).Observe(duration.Seconds())
}

// ObservePage records a processed listing page.
func ObservePage(site, outcome string) {
	Init()
	pagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveExtraction records how many records a strategy produced.
func ObserveExtraction(strategy string, records int) {
	Init()
	if records > 0 {
		extractionRecordsTotal.WithLabelValues(strategy).Add(float64(records))
	}
}

// ObserveCompany counts a persisted company.
func ObserveCompany() {
	Init()
	companiesTotal.Inc()
}

// ObserveJob records a finished job.
func ObserveJob(status string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		jobDurationSeconds.Observe(duration.Seconds())
	}
}

// SetJobActive flips the active job gauge.
func SetJobActive(active bool) {
	Init()
	if active {
		activeJobs.Set(1)
		return
	}
	activeJobs.Set(0)
}

// ObserveArchiveFailure counts a failed raw page archive write.
func ObserveArchiveFailure() {
	Init()
	archiveFailuresTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
