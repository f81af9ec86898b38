package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const (
	OutcomeCompleted    = "completed"
	OutcomeReplayed     = "replayed"
	OutcomeRejected     = "rejected"
	OutcomeInsufficient = "insufficient_balance"
	OutcomeFailed       = "failed"
)

// Metrics covers money movement and provisioning. A nil *Metrics records
// nothing.
type Metrics struct {
	Transfers           *prometheus.CounterVec
	TransferAmount      prometheus.Histogram
	TransferDuration    prometheus.Histogram
	AccountsProvisioned prometheus.Counter
	ProvisionRetries    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paybook_transfers_total",
			Help: "Transfers by outcome",
		}, []string{"outcome"}),
		TransferAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "paybook_transfer_amount",
			Help:    "Amount of completed transfers",
			Buckets: []float64{10, 100, 500, 1000, 5000, 10000, 25000, 50000},
		}),
		TransferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "paybook_transfer_duration_seconds",
			Help:    "Time to execute a transfer, including rejected ones",
			Buckets: prometheus.DefBuckets,
		}),
		AccountsProvisioned: factory.NewCounter(prometheus.CounterOpts{
			Name: "paybook_accounts_provisioned_total",
			Help: "Accounts created at sign-up",
		}),
		ProvisionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "paybook_account_number_retries_total",
			Help: "Account number collisions retried during provisioning",
		}),
	}
}

func (m *Metrics) ObserveTransfer(outcome string, amount decimal.Decimal, d time.Duration) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(outcome).Inc()
	m.TransferDuration.Observe(d.Seconds())
	if outcome == OutcomeCompleted {
		m.TransferAmount.Observe(amount.InexactFloat64())
	}
}

func (m *Metrics) IncrementAccountsProvisioned() {
	if m == nil {
		return
	}
	m.AccountsProvisioned.Inc()
}

func (m *Metrics) IncrementProvisionRetries() {
	if m == nil {
		return
	}
	m.ProvisionRetries.Inc()
}
