package metrics

import "github.com/prometheus/client_golang/prometheus"

// BroadcastMetrics holds Prometheus metrics for viewer sessions.
type BroadcastMetrics struct {
	ActiveConnections   prometheus.Gauge
	RejectedConnections prometheus.Counter
	SnapshotsSent       prometheus.Counter
	SnapshotsDropped    prometheus.Counter
	SnapshotFailures    prometheus.Counter
	WriteFailures       prometheus.Counter
	SendDuration        prometheus.Histogram
}

// NewBroadcastMetrics creates and registers broadcast metrics on the given registry.
func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket viewer sessions.",
		}),
		RejectedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejected_connections_total",
			Help:      "Total number of connections rejected at capacity.",
		}),
		SnapshotsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "snapshots_sent_total",
			Help:      "Total number of snapshots written to viewers.",
		}),
		SnapshotsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "snapshots_dropped_total",
			Help:      "Total number of queued snapshots dropped for slow viewers.",
		}),
		SnapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "snapshot_failures_total",
			Help:      "Total number of snapshot builds that failed to read the store.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "write_failures_total",
			Help:      "Total number of failed WebSocket writes.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "send_duration_seconds",
			Help:      "Duration of a WebSocket snapshot write in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.RejectedConnections, m.SnapshotsSent,
		m.SnapshotsDropped, m.SnapshotFailures, m.WriteFailures, m.SendDuration)
	return m
}
