// Package metrics provides Prometheus instrumentation for runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rrsched"

// Registry holds all metric instances. A nil *Registry is valid and records nothing.
type Registry struct {
	Runs               *prometheus.CounterVec
	Charges            *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	TransitionDuration prometheus.Histogram
	SignalFailures     *prometheus.CounterVec
	WorkersActive      prometheus.Gauge
	WorkersSpawned     prometheus.Counter
	SpawnFailures      prometheus.Counter
}

// NewRegistry creates the metric set on reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "total",
				Help:      "Runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		Charges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "charges_total",
				Help:      "Quantum charges applied to the active worker",
			},
			[]string{"worker"},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "transitions_total",
				Help:      "Timer firings by outcome (noop, paused, finished, halted)",
			},
			[]string{"kind"},
		),
		TransitionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "transition_duration_seconds",
				Help:      "Time spent handling one timer firing",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
			},
		),
		SignalFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "signal_failures_total",
				Help:      "Signals that could not be delivered to a worker",
			},
			[]string{"op"},
		),
		WorkersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "workers_queued",
				Help:      "Workers still in the run queue",
			},
		),
		WorkersSpawned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "spawned_total",
				Help:      "Worker processes spawned",
			},
		),
		SpawnFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "spawn_failures_total",
				Help:      "Worker processes that could not be spawned",
			},
		),
	}
}

func (r *Registry) ObserveRun(mode, outcome string) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(mode, outcome).Inc()
}

func (r *Registry) ObserveCharge(worker string) {
	if r == nil {
		return
	}
	r.Charges.WithLabelValues(worker).Inc()
}

func (r *Registry) ObserveTransition(kind string, took time.Duration, queued int) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(kind).Inc()
	r.TransitionDuration.Observe(took.Seconds())
	r.WorkersActive.Set(float64(queued))
}

func (r *Registry) ObserveSignalFailure(op string) {
	if r == nil {
		return
	}
	r.SignalFailures.WithLabelValues(op).Inc()
}

func (r *Registry) ObserveQueued(n int) {
	if r == nil {
		return
	}
	r.WorkersActive.Set(float64(n))
}

func (r *Registry) ObserveSpawn(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.SpawnFailures.Inc()
		return
	}
	r.WorkersSpawned.Inc()
}
