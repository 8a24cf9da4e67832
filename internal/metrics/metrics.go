// Package metrics exposes Prometheus collectors for the crawler.
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
	frontierEnqueuedTotal      *prometheus.CounterVec
	frontierClaimsTotal        prometheus.Counter
	frontierEntries            *prometheus.GaugeVec
	fetchOutcomesTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	redirectsTotal             *prometheus.CounterVec
	retriesTotal               *prometheus.CounterVec
	pacingWaitSeconds          prometheus.Histogram
	breakerTransitionsTotal    *prometheus.CounterVec
	sessionsTotal              *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call this
// function multiple times; every observer calls it before first use.
func Init() {
	once.Do(func() {
		frontierEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_enqueued_total",
				Help: "Enqueue calls, labeled by discovery source and resulting state.",
			},
			[]string{"source", "state"},
		)

		frontierClaimsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_claims_total",
				Help: "Entries claimed by fetch workers.",
			},
		)

		frontierEntries = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "frontier_entries",
				Help: "Frontier entries by state, sampled periodically.",
			},
			[]string{"state"},
		)

		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_outcomes_total",
				Help: "Fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by backend.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"backend"},
		)

		redirectsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_redirects_total",
				Help: "Redirect hops, labeled by resolution result.",
			},
			[]string{"result"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Failures scheduled for retry, labeled by error kind.",
			},
			[]string{"kind"},
		)

		pacingWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_pacing_wait_seconds",
				Help:    "Time spent waiting for a per-host pacing slot.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		breakerTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_breaker_transitions_total",
				Help: "Circuit breaker state changes, labeled by new state.",
			},
			[]string{"state"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sessions_total",
				Help: "Finished crawl sessions, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing an entry.",
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

// SanitizeSite extracts a lowercase hostname from a URL or bare host.
// It returns "unknown" if the input cannot be parsed.
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

// ObserveEnqueue counts an enqueue call.
func ObserveEnqueue(source, state string) {
	Init()
	frontierEnqueuedTotal.WithLabelValues(source, state).Inc()
}

// ObserveClaims counts claimed entries.
func ObserveClaims(n int) {
	Init()
	if n > 0 {
		frontierClaimsTotal.Add(float64(n))
	}
}

// SetFrontierEntries records the sampled count for state.
func SetFrontierEntries(state string, n int) {
	Init()
	frontierEntries.WithLabelValues(state).Set(float64(n))
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(site, outcome, backend string, bytesFetched int, duration time.Duration) {
	Init()
	sanitized := SanitizeSite(site)
	fetchOutcomesTotal.WithLabelValues(sanitized, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(backend).Observe(duration.Seconds())
	}
}

// ObserveRedirect counts a redirect hop by result.
func ObserveRedirect(result string) {
	Init()
	redirectsTotal.WithLabelValues(result).Inc()
}

// ObserveRetry counts a retry scheduled for an error kind.
func ObserveRetry(kind string) {
	Init()
	retriesTotal.WithLabelValues(kind).Inc()
}

// ObservePacingWait records time spent waiting for a host slot.
func ObservePacingWait(d time.Duration) {
	Init()
	if d > time.Millisecond {
		pacingWaitSeconds.Observe(d.Seconds())
	}
}

// ObserveBreakerTransition counts a circuit breaker state change.
func ObserveBreakerTransition(state string) {
	Init()
	breakerTransitionsTotal.WithLabelValues(state).Inc()
}

// ObserveSession counts a finished session.
func ObserveSession(status string) {
	Init()
	sessionsTotal.WithLabelValues(status).Inc()
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

// ObserveHTTPRequest records an API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
