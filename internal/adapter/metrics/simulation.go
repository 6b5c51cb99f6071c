package metrics

import "github.com/prometheus/client_golang/prometheus"

// SimulationMetrics holds Prometheus metrics for the tick simulator.
type SimulationMetrics struct {
	Ticks         prometheus.Counter
	TickDuration  prometheus.Histogram
	EntityUpdates *prometheus.CounterVec
	EntityErrors  *prometheus.CounterVec
	AlertsRaised  *prometheus.CounterVec
	SkippedTicks  prometheus.Counter
}

// NewSimulationMetrics creates and registers simulator metrics on the given registry.
func NewSimulationMetrics(reg prometheus.Registerer) *SimulationMetrics {
	m := &SimulationMetrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "ticks_total",
			Help:      "Total number of simulation ticks.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a simulation tick in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		EntityUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "entity_updates_total",
			Help:      "Total number of entities advanced, by kind.",
		}, []string{"kind"}),
		EntityErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "entity_errors_total",
			Help:      "Total number of failed entity updates, by kind.",
		}, []string{"kind"}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "alerts_raised_total",
			Help:      "Total number of alerts raised, by source.",
		}, []string{"source"}),
		SkippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "skipped_ticks_total",
			Help:      "Total number of ticks skipped because this instance is not the leader.",
		}),
	}

	reg.MustRegister(m.Ticks, m.TickDuration, m.EntityUpdates, m.EntityErrors, m.AlertsRaised, m.SkippedTicks)
	return m
}
