package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Published      prometheus.Counter
	PublishFailed  prometheus.Counter
	BreakerOpen    prometheus.Gauge
	BatchSize      prometheus.Histogram
	PendingEntries prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "paybook_outbox_published_total",
			Help: "Outbox entries published to Kafka",
		}),
		PublishFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "paybook_outbox_publish_failures_total",
			Help: "Outbox publish attempts that failed",
		}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paybook_outbox_breaker_open",
			Help: "1 while the relay's circuit breaker is open",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "paybook_outbox_batch_size",
			Help:    "Entries claimed per relay pass",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		PendingEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paybook_outbox_pending_entries",
			Help: "Outbox entries not yet published",
		}),
	}
}

func (m *Metrics) incPublished() {
	if m == nil {
		return
	}
	m.Published.Inc()
}

func (m *Metrics) incFailed() {
	if m == nil {
		return
	}
	m.PublishFailed.Inc()
}

func (m *Metrics) setBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}

func (m *Metrics) observeBatch(n int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(n))
}

func (m *Metrics) setPending(n int64) {
	if m == nil {
		return
	}
	m.PendingEntries.Set(float64(n))
}
