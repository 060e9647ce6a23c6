package roomcast

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	datagramsSent     *prometheus.CounterVec
	datagramsReceived *prometheus.CounterVec
	sendFailures      prometheus.Counter
	decodeFailures    prometheus.Counter
	protocolErrors    prometheus.Counter
	inboxDrops        prometheus.Counter
	activeRooms       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	var m = &Metrics{
		datagramsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomcast",
			Name:      "datagrams_sent_total",
			Help:      "Datagrams handed to the socket, by message kind.",
		}, []string{"kind"}),
		datagramsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomcast",
			Name:      "datagrams_received_total",
			Help:      "Decoded datagrams received, by message kind.",
		}, []string{"kind"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomcast",
			Name:      "send_failures_total",
			Help:      "Outbound messages that could not be sent.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomcast",
			Name:      "decode_failures_total",
			Help:      "Inbound datagrams that were not well-formed messages.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomcast",
			Name:      "protocol_errors_total",
			Help:      "Decoded messages rejected by the session.",
		}),
		inboxDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomcast",
			Name:      "inbox_drops_total",
			Help:      "Inbound messages dropped because dispatch fell behind.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomcast",
			Name:      "active_rooms",
			Help:      "Rooms the client currently takes part in.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.datagramsSent,
			m.datagramsReceived,
			m.sendFailures,
			m.decodeFailures,
			m.protocolErrors,
			m.inboxDrops,
			m.activeRooms,
		)
	}
	return m
}

func (m *Metrics) sent(k Kind) {
	if m != nil {
		m.datagramsSent.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) received(k Kind) {
	if m != nil {
		m.datagramsReceived.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) decodeFailed() {
	if m != nil {
		m.decodeFailures.Inc()
	}
}

func (m *Metrics) protocolError() {
	if m != nil {
		m.protocolErrors.Inc()
	}
}

func (m *Metrics) inboxDropped() {
	if m != nil {
		m.inboxDrops.Inc()
	}
}

func (m *Metrics) setActiveRooms(n int) {
	if m != nil {
		m.activeRooms.Set(float64(n))
	}
}
