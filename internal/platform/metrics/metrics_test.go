package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementUsersCreated()
	m.IncrementUsersCreated()
	m.IncrementAuthFailure("invalid_credentials")
	m.ObserveRequest("POST", "/transfers", "2xx", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UsersCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailures.WithLabelValues("invalid_credentials")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestLatency))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.IncrementUsersCreated()
	m.IncrementSessionsCreated()
	m.IncrementAuthFailure("x")
	m.ObserveRequest("GET", "/", "2xx", time.Millisecond)
}
