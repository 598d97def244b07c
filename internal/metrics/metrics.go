// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	outboundRequestsTotal      *prometheus.CounterVec
	outboundRequestDuration    *prometheus.HistogramVec
	probesTotal                *prometheus.CounterVec
	probesInFlight             prometheus.Gauge
	runsTotal                  *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	snapshotResources          prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		outboundRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_outbound_requests_total",
				Help: "Total outbound HTTP requests, labeled by method and code.",
			},
			[]string{"code", "method"},
		)

		outboundRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_outbound_request_duration_seconds",
				Help:    "Histogram of outbound HTTP request latencies, labeled by method.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method"},
		)

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_probes_total",
				Help: "Total resource probes, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		probesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_probes_in_flight",
				Help: "Number of resource probes currently executing.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_runs_total",
				Help: "Total pipeline runs, labeled by final status.",
			},
			[]string{"status"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		)

		snapshotResources = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_snapshot_resources",
				Help: "Number of resources in the most recent snapshot record.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_http_requests_total",
				Help: "Total requests served by the ops endpoint, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_http_request_duration_seconds",
				Help:    "Histogram of ops endpoint latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
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

// InstrumentRoundTripper wraps next with outbound request counters and latency histograms.
func InstrumentRoundTripper(next http.RoundTripper) http.RoundTripper {
	Init()
	return promhttp.InstrumentRoundTripperCounter(outboundRequestsTotal,
		promhttp.InstrumentRoundTripperDuration(outboundRequestDuration, next))
}

// ObserveProbe counts one finished probe. result is "ok" or a probe error kind.
func ObserveProbe(link, result string) {
	Init()
	probesTotal.WithLabelValues(SanitizeSite(link), result).Inc()
}

// IncProbesInFlight increments the in-flight probe gauge.
func IncProbesInFlight() {
	Init()
	probesInFlight.Inc()
}

// DecProbesInFlight decrements the in-flight probe gauge.
func DecProbesInFlight() {
	Init()
	probesInFlight.Dec()
}

// ObserveStage records how long a pipeline stage ran.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// SetSnapshotResources records the size of the latest snapshot.
func SetSnapshotResources(n int) {
	Init()
	snapshotResources.Set(float64(n))
}

// ObserveHTTPRequest increments the ops endpoint request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends the default registry to a Prometheus Pushgateway. Batch runs exit
// before a scrape would happen, so this is how their metrics get out.
func Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return nil
	}
	Init()
	pusher := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
