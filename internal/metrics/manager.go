// Package metrics holds the Prometheus collectors for the HTTP API, the Strava
// client and the cache.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "strava_stats"
	Subsystem = "server"
)

type Manager struct {
	// counters
	CounterRequests           *prometheus.CounterVec
	CounterHandleRequestPanic prometheus.Counter
	CounterUpstreamRequests   *prometheus.CounterVec
	CounterUpstreamRetries    *prometheus.CounterVec
	CounterCacheLookups       *prometheus.CounterVec
	CounterTruncatedSweeps    prometheus.Counter

	// gauges
	GaugeRequests prometheus.Gauge

	// histograms
	HistRequestDuration  prometheus.Histogram
	HistUpstreamDuration *prometheus.HistogramVec
	HistSweepIterations  prometheus.Histogram
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("strava_stats", "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	return &Manager{
		CounterRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request",
			Help:      "The total number of incoming requests",
		}, []string{"method", "status"}),
		CounterHandleRequestPanic: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handle_request_panic",
			Help:      "The total number of serve request panics",
		}),
		CounterUpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_requests",
			Help:      "Strava API calls by endpoint and final status (0 for transport failures)",
		}, []string{"endpoint", "status"}),
		CounterUpstreamRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_retries",
			Help:      "Strava API attempts beyond the first",
		}, []string{"endpoint"}),
		CounterCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_lookups",
			Help:      "Cache lookups by key prefix and result",
		}, []string{"prefix", "result"}),
		CounterTruncatedSweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "history_sweeps_truncated",
			Help:      "Full history sweeps stopped by the iteration ceiling",
		}),
		GaugeRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "current_requests",
			Help:      "Current number of requests served",
		}),
		HistRequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			Name:      "request_duration_seconds",
			Help:      "Total duration of requests in seconds",
		}),
		HistUpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			Name:      "upstream_duration_seconds",
			Help:      "Duration of Strava API calls including retries",
		}, []string{"endpoint"}),
		HistSweepIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			Name:      "history_sweep_iterations",
			Help:      "Pages fetched per full history sweep",
		}),
	}
}

// ObserveUpstream implements strava.Observer
func (m *Manager) ObserveUpstream(endpoint string, status int, elapsed time.Duration) {
	m.CounterUpstreamRequests.With(prometheus.Labels{
		"endpoint": endpoint,
		"status":   strconv.Itoa(status),
	}).Inc()
	m.HistUpstreamDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveRetry implements strava.Observer
func (m *Manager) ObserveRetry(endpoint string) {
	m.CounterUpstreamRetries.WithLabelValues(endpoint).Inc()
}

// CacheLookup implements service.Recorder
func (m *Manager) CacheLookup(prefix string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CounterCacheLookups.With(prometheus.Labels{"prefix": prefix, "result": result}).Inc()
}

// HistorySweep implements service.Recorder
func (m *Manager) HistorySweep(iterations int, _ int, truncated bool) {
	m.HistSweepIterations.Observe(float64(iterations))
	if truncated {
		m.CounterTruncatedSweeps.Inc()
	}
}
