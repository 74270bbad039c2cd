// Package metrics exposes Prometheus collectors for the crawler service.
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
	apiRequestsTotal           *prometheus.CounterVec
	apiRateLimitHitsTotal      prometheus.Counter
	apiChallengeHitsTotal      prometheus.Counter
	recordsEmittedTotal        prometheus.Counter
	sectionsCompletedTotal     prometheus.Counter
	pausesTotal                *prometheus.CounterVec
	stateSaveFailuresTotal     prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeRuns                 prometheus.Gauge
	politenessDelaySeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nomenclature_api_requests_total",
				Help: "Total number of nomenclature API requests, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		apiRateLimitHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nomenclature_api_rate_limit_hits_total",
				Help: "Total number of HTTP 429 responses from the nomenclature API.",
			},
		)

		apiChallengeHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nomenclature_api_challenge_hits_total",
				Help: "Total number of HTTP 403 responses from the nomenclature API.",
			},
		)

		recordsEmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_records_emitted_total",
				Help: "Total number of leaf records written to output files.",
			},
		)

		sectionsCompletedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_sections_completed_total",
				Help: "Total number of sections closed.",
			},
		)

		pausesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pauses_total",
				Help: "Total number of crawl pauses, labeled by reason class.",
			},
			[]string{"reason"},
		)

		stateSaveFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_state_save_failures_total",
				Help: "Total number of failed crawl state writes.",
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

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_runs",
				Help: "Number of crawl runs currently executing.",
			},
		)

		politenessDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_politeness_delay_seconds",
				Help:    "Histogram of politeness delays, labeled by kind.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
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

// ObserveAPIRequest counts one nomenclature API call by outcome
// (ok, network, parse, or http_<status>).
func ObserveAPIRequest(site string, outcome string) {
	apiRequestsTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveRateLimitHit increments the 429 counter.
func ObserveRateLimitHit() {
	apiRateLimitHitsTotal.Inc()
}

// ObserveChallengeHit increments the 403 counter.
func ObserveChallengeHit() {
	apiChallengeHitsTotal.Inc()
}

// ObserveSectionCompleted records a closed section and the records it emitted.
func ObserveSectionCompleted(records int) {
	sectionsCompletedTotal.Inc()
	if records > 0 {
		recordsEmittedTotal.Add(float64(records))
	}
}

// ObservePause increments the pause counter for the given reason class.
func ObservePause(reason string) {
	pausesTotal.WithLabelValues(reason).Inc()
}

// ObserveStateSaveFailure increments the failed state write counter.
func ObserveStateSaveFailure() {
	stateSaveFailuresTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	activeRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	activeRuns.Dec()
}

// ObservePolitenessDelay records a delay taken between requests or sections.
func ObservePolitenessDelay(kind string, duration time.Duration) {
	politenessDelaySeconds.WithLabelValues(kind).Observe(duration.Seconds())
}
