package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-wide Prometheus metrics: HTTP traffic and identity
// lifecycle. Feature packages keep their own metrics next to their code.
type Metrics struct {
	UsersCreated    prometheus.Counter
	SessionsCreated prometheus.Counter
	AuthFailures    *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
}

// New creates and registers the metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UsersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "paybook_users_created_total",
			Help: "Total number of identities created by sign-up",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "paybook_sessions_created_total",
			Help: "Total number of sessions created by sign-in or sign-up",
		}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paybook_auth_failures_total",
			Help: "Authentication failures by reason",
		}, []string{"reason"}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paybook_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) IncrementUsersCreated() {
	if m == nil {
		return
	}
	m.UsersCreated.Inc()
}

func (m *Metrics) IncrementSessionsCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) IncrementAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(method, route, status).Observe(d.Seconds())
}
