// Package metrics exposes Prometheus instruments for the notification
// pipeline. Every method is safe on a nil *Metrics so components can run
// uninstrumented in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeNoop      = "noop"
)

// Translator failure stages.
const (
	StageLookup  = "lookup"
	StagePersist = "persist"
)

// Metrics groups the pipeline instruments registered on one registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	sessions          prometheus.Gauge
	identities        prometheus.Gauge
	pushes            *prometheus.CounterVec
	dispatchDuration  prometheus.Histogram
	notifications     *prometheus.CounterVec
	translateFailures *prometheus.CounterVec
	eventsDropped     prometheus.Counter
	sweeps            prometheus.Counter
}

// New registers the instruments on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWith(reg, reg)
}

// NewWith registers the instruments on registerer and serves gatherer.
func NewWith(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		gatherer: gatherer,
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskhub_push_sessions",
			Help: "Authenticated push sessions currently registered",
		}),
		identities: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskhub_push_identities",
			Help: "Identities with at least one registered push session",
		}),
		pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_push_deliveries_total",
			Help: "Push attempts by outcome; noop counts records with no live session",
		}, []string{"outcome"}),
		dispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskhub_dispatch_duration_seconds",
			Help:    "Time to fan one record out to its recipient's sessions",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_notifications_created_total",
			Help: "Notification records persisted by type",
		}, []string{"type"}),
		translateFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskhub_translate_failures_total",
			Help: "Translator failures by stage",
		}, []string{"stage"}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_task_events_dropped_total",
			Help: "Task events rejected because the bus was full or closed",
		}),
		sweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_overdue_sweeps_total",
			Help: "Completed overdue sweeps",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SetRegistrySize records current registry size.
func (m *Metrics) SetRegistrySize(sessions int, identities int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(sessions))
	m.identities.Set(float64(identities))
}

// Push counts one push outcome.
func (m *Metrics) Push(outcome string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(outcome).Inc()
}

// ObserveDispatch records one fan-out duration in seconds.
func (m *Metrics) ObserveDispatch(seconds float64) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(seconds)
}

// NotificationCreated counts one persisted record.
func (m *Metrics) NotificationCreated(notificationType string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(notificationType).Inc()
}

// TranslateFailed counts one translator failure.
func (m *Metrics) TranslateFailed(stage string) {
	if m == nil {
		return
	}
	m.translateFailures.WithLabelValues(stage).Inc()
}

// EventDropped counts one rejected task event.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// SweepCompleted counts one finished overdue sweep.
func (m *Metrics) SweepCompleted() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}
