package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bernardosdias/fightnet/protocol"
)

// metrics holds the server's prometheus instruments. A nil *metrics is a
// no-op so the server runs unchanged without a registry.
type metrics struct {
	connections   prometheus.Counter
	activePlayers prometheus.Gauge
	messages      *prometheus.CounterVec
	dropped       prometheus.Counter
	hitsApplied   prometheus.Counter
	hitsRejected  *prometheus.CounterVec
	rounds        prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}

	m := &metrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fightnet_connections_total",
			Help: "Connections accepted, including rejected ones.",
		}),
		activePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fightnet_active_players",
			Help: "Players currently registered.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fightnet_messages_total",
			Help: "Messages processed, by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fightnet_messages_dropped_total",
			Help: "Messages dropped by the per-connection rate limiter.",
		}),
		hitsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fightnet_hits_applied_total",
			Help: "Hit claims that passed validation and were applied.",
		}),
		hitsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fightnet_hits_rejected_total",
			Help: "Hit claims rejected, by reason.",
		}, []string{"reason"}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fightnet_rounds_completed_total",
			Help: "Rounds finished with a winner.",
		}),
	}
	reg.MustRegister(m.connections, m.activePlayers, m.messages, m.dropped,
		m.hitsApplied, m.hitsRejected, m.rounds)
	return m
}

func (m *metrics) connectionAccepted() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *metrics) playersChanged(count int) {
	if m == nil {
		return
	}
	m.activePlayers.Set(float64(count))
}

func (m *metrics) messageReceived(t protocol.MessageType) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(string(t)).Inc()
}

func (m *metrics) messageDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *metrics) hitApplied() {
	if m == nil {
		return
	}
	m.hitsApplied.Inc()
}

func (m *metrics) hitRejected(reason string) {
	if m == nil {
		return
	}
	m.hitsRejected.WithLabelValues(reason).Inc()
}

func (m *metrics) roundCompleted() {
	if m == nil {
		return
	}
	m.rounds.Inc()
}
