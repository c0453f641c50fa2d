package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kibitz",
			Subsystem: "pool",
			Name:      "evaluations_total",
			Help:      "Number of finished evaluations per engine and outcome.",
		}, []string{"engine", "outcome"},
	)
	evalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kibitz",
			Subsystem: "pool",
			Name:      "evaluation_duration_seconds",
			Help:      "Wall-clock time from dispatch to settled result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"engine"},
	)
	evalDepth = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kibitz",
			Subsystem: "pool",
			Name:      "evaluation_depth",
			Help:      "Requested search depth after clamping.",
			Buckets:   []float64{5, 10, 15, 20, 25, 30, 40},
		}, []string{"engine"},
	)
	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kibitz",
			Subsystem: "pool",
			Name:      "queue_length",
			Help:      "Current number of requests waiting for a free engine.",
		},
	)
	enginesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kibitz",
			Subsystem: "pool",
			Name:      "engines_total",
			Help:      "Engines currently alive in the pool.",
		},
	)
	enginesBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kibitz",
			Subsystem: "pool",
			Name:      "engines_busy",
			Help:      "Engines currently running an evaluation.",
		},
	)
	engineCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kibitz",
			Subsystem: "engine",
			Name:      "crashes_total",
			Help:      "Engine processes that exited without being asked to.",
		}, []string{"engine"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{evaluations, evalDuration, evalDepth, queueLength, enginesTotal, enginesBusy, engineCrashes}
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

func IncEvaluation(engine, outcome string) {
	if regOK.Load() {
		evaluations.WithLabelValues(engine, outcome).Inc()
	}
}
func ObserveEvalDuration(engine string, seconds float64) {
	if regOK.Load() {
		evalDuration.WithLabelValues(engine).Observe(seconds)
	}
}
func ObserveEvalDepth(engine string, depth int) {
	if regOK.Load() {
		evalDepth.WithLabelValues(engine).Observe(float64(depth))
	}
}
func SetQueueLength(n int) {
	if regOK.Load() {
		queueLength.Set(float64(n))
	}
}
func SetEnginesTotal(n int) {
	if regOK.Load() {
		enginesTotal.Set(float64(n))
	}
}
func SetEnginesBusy(n int) {
	if regOK.Load() {
		enginesBusy.Set(float64(n))
	}
}
func IncEngineCrash(engine string) {
	if regOK.Load() {
		engineCrashes.WithLabelValues(engine).Inc()
	}
}
