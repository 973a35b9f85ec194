package libraries

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "boardsync"

// Metrics holds the hub's Prometheus collectors.
type Metrics struct {
	// Connections is the number of open websocket clients.
	Connections prometheus.Gauge
	// Rooms is the number of boards with at least one joined client.
	Rooms prometheus.Gauge
	// Joins counts join replies. Labels: result (init, diff, denied)
	Joins *prometheus.CounterVec
	// Events counts confirmed events. Labels: action
	Events *prometheus.CounterVec
	// Rejected counts refused batches. Labels: reason (access, invalid, storage, not_joined)
	Rejected *prometheus.CounterVec
	// BatchSeconds measures validation plus persistence of one batch.
	BatchSeconds prometheus.Histogram
	// Dropped counts clients evicted because their send buffer was full.
	Dropped prometheus.Counter
}

// NewMetrics registers the hub metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "rooms",
			Help:      "Boards with joined clients.",
		}),
		Joins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "joins_total",
			Help:      "Join requests by reply.",
		}, []string{"result"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "events_total",
			Help:      "Confirmed events by action.",
		}, []string{"action"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "rejected_batches_total",
			Help:      "Refused event batches by reason.",
		}, []string{"reason"}),
		BatchSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "batch_seconds",
			Help:      "Time to validate and persist one event batch.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "dropped_clients_total",
			Help:      "Clients evicted for not reading fast enough.",
		}),
	}
}
