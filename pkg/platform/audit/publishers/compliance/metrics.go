package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe; a nil *Metrics records nothing.
type Metrics struct {
	eventsEmitted   prometheus.Counter
	persistFailures prometheus.Counter
	persistDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		eventsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "paybook_audit_compliance_events_total",
			Help: "Compliance audit events persisted",
		}),
		persistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "paybook_audit_compliance_failures_total",
			Help: "Compliance audit events that failed to persist",
		}),
		persistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "paybook_audit_compliance_persist_seconds",
			Help:    "Time to persist a compliance audit event",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncEventsEmitted() {
	if m != nil {
		m.eventsEmitted.Inc()
	}
}

func (m *Metrics) IncPersistFailures() {
	if m != nil {
		m.persistFailures.Inc()
	}
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	if m != nil {
		m.persistDuration.Observe(seconds)
	}
}
