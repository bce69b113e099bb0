package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "statusbot"

// Metrics holds the process counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	probes     *prometheus.CounterVec
	edges      *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	feedEvents *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_attempts_total",
			Help:      "Echo probe attempts by outcome.",
		}, []string{"outcome"}),
		edges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_changes_total",
			Help:      "Notified tier changes by new tier.",
		}, []string{"tier"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-recipient message deliveries by outcome.",
		}, []string{"outcome"}),
		feedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_total",
			Help:      "Surveillance feed events by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.probes, m.edges, m.deliveries, m.feedEvents)
	return m
}

func (m *Metrics) ProbeAttempt(ok bool) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) TierChange(tier string) {
	if m == nil {
		return
	}
	m.edges.WithLabelValues(tier).Inc()
}

func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) FeedEvent(kind string) {
	if m == nil {
		return
	}
	m.feedEvents.WithLabelValues(kind).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
