package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notifier"

// Metrics groups the collectors shared by the bus, fulfillment and relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsEmitted     *prometheus.CounterVec
	eventsRejected    *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	deliveryErrors    prometheus.Counter
	listenerFailures  *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	triggersDiscarded prometheus.Counter
	activeSequences   prometheus.Gauge
	relayPublished    *prometheus.CounterVec
	relayDropped      prometheus.Counter
}

// NewMetrics creates the collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Events written to the event log.",
		}, []string{"environment", "type"}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Emits rejected before reaching the event log.",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Synthesized webhook delivery attempts.",
		}, []string{"environment", "status"}),
		deliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_store_errors_total",
			Help:      "Webhook lookups or delivery log writes that failed during emit.",
		}),
		listenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_failures_total",
			Help:      "In-process listeners that returned an error or panicked.",
		}, []string{"type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fulfillment",
			Name:      "transitions_total",
			Help:      "Shipment state transitions applied.",
		}, []string{"state"}),
		triggersDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fulfillment",
			Name:      "triggers_discarded_total",
			Help:      "order.created events without a usable order id or environment.",
		}),
		activeSequences: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fulfillment",
			Name:      "active_sequences",
			Help:      "Fulfillment sequences with stages still pending.",
		}),
		relayPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "Events mirrored to the broker.",
		}, []string{"result"}),
		relayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Events dropped because the relay buffer was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsEmitted, m.eventsRejected, m.deliveries, m.deliveryErrors, m.listenerFailures,
		m.transitions, m.triggersDiscarded, m.activeSequences, m.relayPublished, m.relayDropped,
	)
	return m
}

// EventEmitted counts an event written to the log.
func (m *Metrics) EventEmitted(env, typ string) {
	if m == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(env, typ).Inc()
}

// EventRejected counts an emit refused before the log write.
func (m *Metrics) EventRejected(reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(reason).Inc()
}

// Delivery counts a synthesized delivery attempt.
func (m *Metrics) Delivery(env, status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(env, status).Inc()
}

// DeliveryError counts a swallowed registry or delivery log failure.
func (m *Metrics) DeliveryError() {
	if m == nil {
		return
	}
	m.deliveryErrors.Inc()
}

// ListenerFailed counts a listener error or panic.
func (m *Metrics) ListenerFailed(typ string) {
	if m == nil {
		return
	}
	m.listenerFailures.WithLabelValues(typ).Inc()
}

// Transition counts an applied shipment state.
func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// TriggerDiscarded counts a malformed order.created payload.
func (m *Metrics) TriggerDiscarded() {
	if m == nil {
		return
	}
	m.triggersDiscarded.Inc()
}

// SequenceStarted and SequenceFinished track the active fulfillment sequences.
func (m *Metrics) SequenceStarted() {
	if m == nil {
		return
	}
	m.activeSequences.Inc()
}

func (m *Metrics) SequenceFinished() {
	if m == nil {
		return
	}
	m.activeSequences.Dec()
}

// RelayResult counts a relay publish outcome ("ok" or "failed").
func (m *Metrics) RelayResult(result string) {
	if m == nil {
		return
	}
	m.relayPublished.WithLabelValues(result).Inc()
}

// RelayDrop counts an event dropped by a full relay buffer.
func (m *Metrics) RelayDrop() {
	if m == nil {
		return
	}
	m.relayDropped.Inc()
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
