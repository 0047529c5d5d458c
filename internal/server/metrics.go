package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/roomchat/internal/presence"
)

// Metrics holds the Prometheus collectors of one server instance. Each
// instance owns its registry so tests can build many servers side by side.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	connections    prometheus.Gauge
	joins          prometheus.Counter
	joinRejections *prometheus.CounterVec
	messages       prometheus.Counter
	typing         prometheus.Counter
	droppedClients prometheus.Counter
}

// NewMetrics registers the chat collectors plus gauges derived from the
// presence registry.
func NewMetrics(registry *presence.Registry) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "joins_total",
			Help:      "Successful room joins.",
		}),
		joinRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "join_rejections_total",
			Help:      "Rejected room joins by reason.",
		}, []string{"reason"}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "messages_total",
			Help:      "Chat messages relayed.",
		}),
		typing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "typing_events_total",
			Help:      "Typing indicators relayed.",
		}),
		droppedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "dropped_clients_total",
			Help:      "Clients removed because their send buffer was full.",
		}),
	}

	reg.MustRegister(
		m.connections,
		m.joins,
		m.joinRejections,
		m.messages,
		m.typing,
		m.droppedClients,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      "presences",
			Help:      "Connections currently joined to a room.",
		}, func() float64 { return float64(registry.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}, func() float64 { return float64(registry.RoomCount()) }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) joined() {
	if m != nil {
		m.joins.Inc()
	}
}

func (m *Metrics) joinRejected(reason string) {
	if m != nil {
		m.joinRejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) messageRelayed() {
	if m != nil {
		m.messages.Inc()
	}
}

func (m *Metrics) typingRelayed() {
	if m != nil {
		m.typing.Inc()
	}
}

func (m *Metrics) clientDropped() {
	if m != nil {
		m.droppedClients.Inc()
	}
}
