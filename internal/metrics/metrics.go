package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects router measurements.
type Metrics struct {
	registry *prometheus.Registry

	// Labels: outcome (assigned|bot|queued), priority
	routes *prometheus.CounterVec
	// Labels: outcome
	routeDuration *prometheus.HistogramVec
	// Lost races for an agent's last slot.
	commitConflicts prometheus.Counter
	// Labels: stage (analysis|agent_pool)
	degraded *prometheus.CounterVec
	// Labels: kind (escalation_risk|sla_breach)
	alerts *prometheus.CounterVec
	// Labels: direction (inbound|outbound)
	messages *prometheus.CounterVec
	// Labels: tenant
	queueDepth *prometheus.GaugeVec
}

// New registers the collectors on registry, or on a fresh one when nil.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support_router",
			Name:      "routes_total",
			Help:      "Routing requests by outcome and priority.",
		}, []string{"outcome", "priority"}),
		routeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "support_router",
			Name:      "route_duration_seconds",
			Help:      "Time to route one message.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"outcome"}),
		commitConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "support_router",
			Name:      "commit_conflicts_total",
			Help:      "Assignment commits that lost the race for an agent's last slot.",
		}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support_router",
			Name:      "degraded_total",
			Help:      "Requests that fell back to defaults because a collaborator failed.",
		}, []string{"stage"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support_router",
			Name:      "alerts_total",
			Help:      "Monitoring alerts raised by kind.",
		}, []string{"kind"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support_router",
			Name:      "messages_total",
			Help:      "Customer channel messages by direction.",
		}, []string{"direction"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "support_router",
			Name:      "queue_depth",
			Help:      "Conversations waiting for an agent.",
		}, []string{"tenant"}),
	}

	registry.MustRegister(m.routes, m.routeDuration, m.commitConflicts, m.degraded, m.alerts, m.messages, m.queueDepth)
	return m
}

func (m *Metrics) RouteCompleted(outcome, priority string, elapsed time.Duration) {
	m.routes.WithLabelValues(outcome, priority).Inc()
	m.routeDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) CommitConflict() {
	m.commitConflicts.Inc()
}

func (m *Metrics) Degraded(stage string) {
	m.degraded.WithLabelValues(stage).Inc()
}

func (m *Metrics) QueueDepth(tenantID string, n int) {
	m.queueDepth.WithLabelValues(tenantID).Set(float64(n))
}

func (m *Metrics) AlertRaised(kind string) {
	m.alerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) MessageReceived() {
	m.messages.WithLabelValues("inbound").Inc()
}

func (m *Metrics) MessageSent() {
	m.messages.WithLabelValues("outbound").Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
