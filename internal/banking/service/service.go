// Package service implements provisioning, transfers and read views over the
// banking stores.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"paybook/internal/banking/metrics"
	"paybook/internal/banking/models"
	id "paybook/pkg/domain"
	dErrors "paybook/pkg/domain-errors"
	audit "paybook/pkg/platform/audit"
	"paybook/pkg/platform/sentinel"
)

type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, accountID id.UserID) (*models.Account, error)
	Debit(ctx context.Context, accountID id.UserID, amount decimal.Decimal, now time.Time) (decimal.Decimal, error)
}

type ContactStore interface {
	CreateMany(ctx context.Context, contacts []*models.Contact) error
	FindByID(ctx context.Context, accountID id.UserID, contactID id.ContactID) (*models.Contact, error)
	List(ctx context.Context, accountID id.UserID, q models.ContactQuery) ([]*models.Contact, error)
	Touch(ctx context.Context, accountID id.UserID, contactID id.ContactID, now time.Time) error
}

type TransactionStore interface {
	Create(ctx context.Context, txn *models.Transaction) error
	FindByIdempotencyKey(ctx context.Context, accountID id.UserID, key string) (*models.Transaction, error)
	ListByAccount(ctx context.Context, accountID id.UserID) ([]*models.Transaction, error)
}

// TxRunner groups store writes into one atomic unit.
type TxRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns every banking operation.
type Service struct {
	accounts     AccountStore
	contacts     ContactStore
	transactions TransactionStore
	tx           TxRunner

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	rngMu          sync.Mutex
	rng            *rand.Rand
	locks          *keyedMutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRand fixes the account number source, for tests.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) {
		s.rng = r
	}
}

func New(accounts AccountStore, contacts ContactStore, transactions TransactionStore, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		accounts:     accounts,
		contacts:     contacts,
		transactions: transactions,
		tx:           tx,
		logger:       slog.Default(),
		tracer:       otel.Tracer("paybook/internal/banking"),
		locks:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, event)
}

// translate maps store facts to coded errors. Errors that already carry a
// code pass through.
func translate(err error, notFound, fallback string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, notFound)
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, fallback)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, fallback)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, fallback)
	}
}
