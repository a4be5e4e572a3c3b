// Package metrics exposes Prometheus collectors for the catalog crawler.
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
	jobsTotal                  *prometheus.CounterVec
	productsIngestedTotal      *prometheus.CounterVec
	extractedCandidatesTotal   prometheus.Counter
	extractionSkippedTotal     prometheus.Counter
	paginationStepsTotal       *prometheus.CounterVec
	policyDecisionsTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	browserSessions            prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_jobs_total",
				Help: "Job status transitions, labeled by target type and status.",
			},
			[]string{"type", "status"},
		)

		productsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_products_ingested_total",
				Help: "Candidate records processed by ingestion, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		extractedCandidatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_extracted_candidates_total",
				Help: "Candidate records produced by the page extractor.",
			},
		)

		extractionSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_extraction_skipped_total",
				Help: "Page elements skipped because a required field could not be extracted.",
			},
		)

		paginationStepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_pagination_steps_total",
				Help: "Load-more iterations, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		policyDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_policy_decisions_total",
				Help: "Robots policy decisions, labeled by decision.",
			},
			[]string{"decision"},
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

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		browserSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_browser_sessions",
				Help: "Number of open headless browser sessions.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_rate_limit_delays_seconds",
				Help:    "Histogram of navigation pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob counts a job status transition.
func ObserveJob(targetType, status string) {
	Init()
	jobsTotal.WithLabelValues(targetType, status).Inc()
}

// ObserveIngest counts n records with the given outcome (inserted, duplicate, failed).
func ObserveIngest(outcome string, n int) {
	if n <= 0 {
		return
	}
	Init()
	productsIngestedTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveExtraction counts extracted and skipped elements for one page.
func ObserveExtraction(extracted, skipped int) {
	Init()
	if extracted > 0 {
		extractedCandidatesTotal.Add(float64(extracted))
	}
	if skipped > 0 {
		extractionSkippedTotal.Add(float64(skipped))
	}
}

// ObservePaginationStep counts one load-more iteration.
func ObservePaginationStep(strategy, outcome string) {
	Init()
	paginationStepsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObservePolicyDecision counts a robots decision.
func ObservePolicyDecision(allowed bool) {
	Init()
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	policyDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
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

// IncBrowserSessions increments the open browser session gauge.
func IncBrowserSessions() {
	Init()
	browserSessions.Inc()
}

// DecBrowserSessions decrements the open browser session gauge.
func DecBrowserSessions() {
	Init()
	browserSessions.Dec()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
