package metrics

import "github.com/prometheus/client_golang/prometheus"

// Frame sources for MalformedFrames.
const (
	SourceClient = "client"
	SourceBus    = "bus"
)

// FanoutMetrics tracks connections, channels and message flow through the hub.
type FanoutMetrics struct {
	ActiveConnections   prometheus.Gauge
	ActiveChannels      prometheus.Gauge
	ActiveSubscriptions prometheus.Gauge
	MessagesReceived    prometheus.Counter
	MessagesRelayed     prometheus.Counter
	MessagesPublished   prometheus.Counter
	MessagesDelivered   prometheus.Counter
	EchoesSuppressed    prometheus.Counter
	MalformedFrames     *prometheus.CounterVec
	PublishFailures     prometheus.Counter
	PrunedConnections   prometheus.Counter
	RelayFailures       prometheus.Counter
	RejectedConnections *prometheus.CounterVec
}

// NewFanoutMetrics registers the fan-out metrics on reg.
func NewFanoutMetrics(reg prometheus.Registerer) *FanoutMetrics {
	m := &FanoutMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "active_connections",
			Help:      "Number of accepted WebSocket connections on this process.",
		}),
		ActiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "active_channels",
			Help:      "Number of session channels with at least one local connection.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "active_subscriptions",
			Help:      "Number of bus subscriptions held by this process.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "messages_received_total",
			Help:      "Client frames accepted for broadcast.",
		}),
		MessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "messages_relayed_total",
			Help:      "Bus messages from other processes broadcast locally.",
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "messages_published_total",
			Help:      "Messages published to the bus.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "messages_delivered_total",
			Help:      "Frames queued to individual local connections.",
		}),
		EchoesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "echoes_suppressed_total",
			Help:      "Bus messages dropped because this process published them.",
		}),
		MalformedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "malformed_frames_total",
			Help:      "Frames dropped because they were not a JSON object, by source.",
		}, []string{"source"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "publish_failures_total",
			Help:      "Bus publish errors.",
		}),
		PrunedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "pruned_connections_total",
			Help:      "Connections removed after a failed send.",
		}),
		RelayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "relay_failures_total",
			Help:      "Bus subscriptions lost while connections were active.",
		}),
		RejectedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "rejected_connections_total",
			Help:      "WebSocket upgrades refused before the handshake, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.ActiveConnections, m.ActiveChannels, m.ActiveSubscriptions,
		m.MessagesReceived, m.MessagesRelayed, m.MessagesPublished, m.MessagesDelivered,
		m.EchoesSuppressed, m.MalformedFrames, m.PublishFailures,
		m.PrunedConnections, m.RelayFailures, m.RejectedConnections,
	)
	return m
}

// NewNopFanoutMetrics returns metrics registered on a throwaway registry.
func NewNopFanoutMetrics() *FanoutMetrics {
	return NewFanoutMetrics(prometheus.NewRegistry())
}
