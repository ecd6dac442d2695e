package debug

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "barchomat"

// Metrics are the counters exported on /metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	pdusRelayed   *prometheus.CounterVec
	pdusDropped   *prometheus.CounterVec
	decodeErrors  *prometheus.CounterVec
	messagesSaved *prometheus.CounterVec
	commands      *prometheus.CounterVec
	sessions      prometheus.Gauge
}

// NewMetrics registers the counters with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		pdusRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdus_relayed_total",
			Help:      "PDUs forwarded by a pipe",
		}, []string{"pipe"}),

		pdusDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdus_dropped_total",
			Help:      "PDUs dropped by a filter",
		}, []string{"pipe"}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Payloads that could not be decoded",
		}, []string{"source"}),

		messagesSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_saved_total",
			Help:      "Captured messages written to disk",
		}, []string{"type"}),

		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "EndClientTurn commands handled by the server",
		}, []string{"command"}),

		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Client sessions currently open",
		}),
	}
}

func (m *Metrics) PduRelayed(pipe string) {
	if m != nil {
		m.pdusRelayed.WithLabelValues(pipe).Inc()
	}
}

func (m *Metrics) PduDropped(pipe string) {
	if m != nil {
		m.pdusDropped.WithLabelValues(pipe).Inc()
	}
}

func (m *Metrics) DecodeError(source string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) MessageSaved(typeName string) {
	if m != nil {
		m.messagesSaved.WithLabelValues(typeName).Inc()
	}
}

func (m *Metrics) Command(id int32) {
	if m != nil {
		m.commands.WithLabelValues(strconv.Itoa(int(id))).Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}
