package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counts bootstrap runs by outcome ("ok", "error").
	BootstrapRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_bootstrap_runs_total",
			Help: "Total number of bootstrap provisioner runs (by outcome).",
		},
		[]string{"outcome"},
	)

	// Measures how long a full bootstrap run takes.
	BootstrapDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_bootstrap_duration_seconds",
			Help:    "Duration of bootstrap provisioner runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
	)

	// Counts individual hook failures by hook name.
	HookFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_bootstrap_hook_failures_total",
			Help: "Number of initialization hook failures.",
		},
		[]string{"hook"},
	)

	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_auth_attempts_total",
			Help: "Total number of authentication attempts (by outcome).",
		},
		[]string{"outcome"},
	)

	ConnectedAgents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_connected_agents",
			Help: "Number of agents currently connected to the gateway.",
		},
	)

	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_event_publish_errors_total",
			Help: "Number of lifecycle event publish failures",
		},
		[]string{"broker"},
	)
)

// ObserveDuration records the time taken since start into the given histogram.
func ObserveDuration(v any, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case prometheus.Histogram:
		metric.Observe(duration)
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncAuthAttempt(outcome string) {
	AuthAttemptsTotal.WithLabelValues(outcome).Inc()
}

func IncHookFailure(hook string) {
	HookFailuresTotal.WithLabelValues(hook).Inc()
}

func StartServer(addr string) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		http.ListenAndServe(addr, nil) //nolint:errcheck
	}()
}
