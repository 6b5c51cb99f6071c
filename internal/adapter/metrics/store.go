package metrics

import "github.com/prometheus/client_golang/prometheus"

// StoreMetrics holds Prometheus metrics for the persistent store backings.
type StoreMetrics struct {
	Operations    *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec
	ActiveBackend *prometheus.GaugeVec
	QueryDuration *prometheus.HistogramVec

	RedisCommands         *prometheus.CounterVec
	RedisCommandDuration  *prometheus.HistogramVec
	RedisConnectionErrors prometheus.Counter
}

// NewStoreMetrics creates and registers store metrics on the given registry.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of store operations, by backend and result.",
		}, []string{"backend", "result"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state by backend (0=closed, 1=half-open, 2=open).",
		}, []string{"backend"}),
		ActiveBackend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "active_backend",
			Help:      "1 for the backing currently serving calls.",
		}, []string{"backend"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Postgres query duration by statement verb.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"query"}),
		RedisCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "commands_total",
			Help:      "Total number of Redis commands, by command and status.",
		}, []string{"command", "status"}),
		RedisCommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "command_duration_seconds",
			Help:      "Redis command duration in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"command"}),
		RedisConnectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "connection_errors_total",
			Help:      "Total number of failed Redis dials.",
		}),
	}

	reg.MustRegister(m.Operations, m.BreakerState, m.ActiveBackend, m.QueryDuration,
		m.RedisCommands, m.RedisCommandDuration, m.RedisConnectionErrors)
	return m
}

// SetActiveBackend marks name as the serving backing.
func (m *StoreMetrics) SetActiveBackend(name string) {
	m.ActiveBackend.Reset()
	m.ActiveBackend.WithLabelValues(name).Set(1)
}

// Observe records the outcome of one store operation.
func (m *StoreMetrics) Observe(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(backend, result).Inc()
}
