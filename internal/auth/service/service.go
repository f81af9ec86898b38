// Package service is the identity and session provider: sign-up, sign-in,
// sign-out, token refresh, request authentication and the per-user stream
// of session changes.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"
	"time"

	"paybook/internal/auth/models"
	"paybook/internal/auth/token"
	bankmodels "paybook/internal/banking/models"
	"paybook/internal/platform/metrics"
	id "paybook/pkg/domain"
	audit "paybook/pkg/platform/audit"
)

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Delete(ctx context.Context, userID id.UserID) error
}

type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	Execute(ctx context.Context, sessionID id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error)
	RevokeSessionIfActive(ctx context.Context, sessionID id.SessionID, now time.Time) (*models.Session, error)
}

// RevocationList blacklists access token JTIs until they would expire anyway.
type RevocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type TokenIssuer interface {
	GenerateAccessToken(userID id.UserID, sessionID id.SessionID, email string, expiresIn time.Duration) (*token.Issued, error)
	ValidateToken(tokenString string) (*token.Claims, error)
	ValidateRefreshToken(tokenString string) (*token.Claims, error)
}

type PasswordHasher interface {
	Hash(password string) ([]byte, error)
	Verify(password string, hash []byte) error
}

// EventBroker fans session events out to subscribers of one user.
type EventBroker interface {
	Publish(ctx context.Context, event models.SessionEvent) error
	Subscribe(ctx context.Context, userID id.UserID) (<-chan models.SessionEvent, func(), error)
}

// Provisioner creates the banking side of a new identity.
type Provisioner interface {
	Provision(ctx context.Context, req bankmodels.ProvisionRequest) (*bankmodels.Account, error)
}

// ComplianceAuditor writes fail-closed audit events.
type ComplianceAuditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// SecurityAuditor records authentication outcomes without blocking.
type SecurityAuditor interface {
	Emit(ctx context.Context, event audit.Event)
}

type Config struct {
	TokenTTL   time.Duration
	SessionTTL time.Duration
}

const (
	defaultTokenTTL   = 15 * time.Minute
	defaultSessionTTL = 7 * 24 * time.Hour
)

type Service struct {
	users       UserStore
	sessions    SessionStore
	trl         RevocationList
	tokens      TokenIssuer
	hasher      PasswordHasher
	broker      EventBroker
	provisioner Provisioner
	cfg         Config

	logger     *slog.Logger
	compliance ComplianceAuditor
	security   SecurityAuditor
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithComplianceAuditor(a ComplianceAuditor) Option {
	return func(s *Service) {
		s.compliance = a
	}
}

func WithSecurityAuditor(a SecurityAuditor) Option {
	return func(s *Service) {
		s.security = a
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(
	users UserStore,
	sessions SessionStore,
	trl RevocationList,
	tokens TokenIssuer,
	hasher PasswordHasher,
	broker EventBroker,
	provisioner Provisioner,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	s := &Service{
		users:       users,
		sessions:    sessions,
		trl:         trl,
		tokens:      tokens,
		hasher:      hasher,
		broker:      broker,
		provisioner: provisioner,
		cfg:         cfg,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) emitCompliance(ctx context.Context, event audit.Event) error {
	if s.compliance == nil {
		return nil
	}
	return s.compliance.Emit(ctx, event)
}

func (s *Service) emitSecurity(ctx context.Context, event audit.Event) {
	if s.security != nil {
		s.security.Emit(ctx, event)
	}
}

// publish is best effort: a lost notification must not fail the operation
// that caused it.
func (s *Service) publish(ctx context.Context, eventType models.SessionEventType, session *models.Session, at time.Time) {
	if s.broker == nil {
		return
	}
	event := models.SessionEvent{Type: eventType, UserID: session.UserID, SessionID: session.ID, At: at}
	if err := s.broker.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish session event",
			"type", string(eventType),
			"user_id", session.UserID.String(),
			"error", err,
		)
	}
}
