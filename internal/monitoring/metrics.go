package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "relay"
	metricsSubsystem = "websocket"
)

// Metrics holds the relay's prometheus collectors. Construct one per
// registry; tests use a fresh prometheus.NewRegistry().
type Metrics struct {
	Connections       prometheus.Gauge
	Authenticated     prometheus.Gauge
	InboundMessages   *prometheus.CounterVec
	OutboundMessages  *prometheus.CounterVec
	DroppedMessages   *prometheus.CounterVec
	BusEvents         *prometheus.CounterVec
	BusParseErrors    *prometheus.CounterVec
	BusReconnects     *prometheus.CounterVec
	AuthOutcomes      *prometheus.CounterVec
	LivenessTerminate prometheus.Counter
	Errors            *prometheus.CounterVec
	Events            *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections",
			Help:      "Number of open WebSocket connections.",
		}),
		Authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "authenticated_connections",
			Help:      "Number of authenticated WebSocket connections.",
		}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "inbound_messages_total",
			Help:      "Client messages received, by type.",
		}, []string{"type"}),
		OutboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "outbound_messages_total",
			Help:      "Messages queued to clients, by type.",
		}, []string{"type"}),
		DroppedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dropped_messages_total",
			Help:      "Outbound messages lost to a full queue, by overflow policy.",
		}, []string{"policy"}),
		BusEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bus",
			Name:      "events_total",
			Help:      "Bus events forwarded, by classified kind.",
		}, []string{"kind"}),
		BusParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bus",
			Name:      "parse_errors_total",
			Help:      "Bus events skipped because their payload could not be parsed, by kind.",
		}, []string{"kind"}),
		BusReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bus",
			Name:      "reconnects_total",
			Help:      "Bus subscription attempts after a failure, by driver.",
		}, []string{"driver"}),
		AuthOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "outcomes_total",
			Help:      "Authentication attempts, by outcome.",
		}, []string{"outcome"}),
		LivenessTerminate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "liveness_terminations_total",
			Help:      "Connections closed after missing a liveness probe.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Errors reported through the monitor, by component and severity.",
		}, []string{"component", "severity"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "System events reported through the monitor, by kind.",
		}, []string{"kind"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.Connections,
			m.Authenticated,
			m.InboundMessages,
			m.OutboundMessages,
			m.DroppedMessages,
			m.BusEvents,
			m.BusParseErrors,
			m.BusReconnects,
			m.AuthOutcomes,
			m.LivenessTerminate,
			m.Errors,
			m.Events,
		)
	}
	return m
}

// CountErrors is an ErrorHook feeding relay_errors_total.
func (m *Metrics) CountErrors() ErrorHook {
	return func(e ErrorEvent) {
		m.Errors.WithLabelValues(e.Component, string(e.Severity)).Inc()
	}
}

// CountEvents is an EventHook feeding relay_events_total.
func (m *Metrics) CountEvents() EventHook {
	return func(e SystemEvent) {
		m.Events.WithLabelValues(e.Kind).Inc()
	}
}
