package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "everyd",
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Number of finished worker invocations by outcome.",
		}, []string{"outcome"},
	)
	skippedTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "everyd",
			Subsystem: "worker",
			Name:      "skipped_ticks_total",
			Help:      "Number of ticks skipped because the previous run was still in flight.",
		},
	)
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "everyd",
			Subsystem: "worker",
			Name:      "run_duration_seconds",
			Help:      "Observed duration of finished worker invocations.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	consecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "everyd",
			Subsystem: "worker",
			Name:      "consecutive_failures",
			Help:      "Current streak of non-success outcomes.",
		},
	)
	lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "everyd",
			Subsystem: "worker",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last invocation finished.",
		},
	)
	lastRunPeakRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "everyd",
			Subsystem: "worker",
			Name:      "last_run_peak_rss_bytes",
			Help:      "Peak resident set size sampled during the last invocation.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runsTotal, skippedTicks, runDuration, consecutiveFailures, lastRunTimestamp, lastRunPeakRSS}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncRun(outcome string) {
	if regOK.Load() {
		runsTotal.WithLabelValues(outcome).Inc()
	}
}

func IncSkippedTick() {
	if regOK.Load() {
		skippedTicks.Inc()
	}
}

func ObserveRunDuration(seconds float64) {
	if regOK.Load() {
		runDuration.Observe(seconds)
	}
}

func SetConsecutiveFailures(n int) {
	if regOK.Load() {
		consecutiveFailures.Set(float64(n))
	}
}

func SetLastRunTimestamp(t time.Time) {
	if regOK.Load() {
		lastRunTimestamp.Set(float64(t.Unix()))
	}
}

func SetLastRunPeakRSS(bytes uint64) {
	if regOK.Load() {
		lastRunPeakRSS.Set(float64(bytes))
	}
}
