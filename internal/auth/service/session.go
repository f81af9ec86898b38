package service

import (
	"context"
	"errors"
	"time"

	"paybook/internal/auth/models"
	"paybook/internal/auth/store/session"
	"paybook/internal/auth/token"
	id "paybook/pkg/domain"
	dErrors "paybook/pkg/domain-errors"
	audit "paybook/pkg/platform/audit"
	"paybook/pkg/platform/sentinel"
	"paybook/pkg/requestcontext"
)

var (
	errSessionInactive = dErrors.New(dErrors.CodeUnauthorized, "session is no longer active")
	errTokenRevoked    = dErrors.New(dErrors.CodeUnauthorized, "token has been revoked")
)

// Authenticate resolves a bearer token to the principal of an active session.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*models.Principal, error) {
	claims, err := s.tokens.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	principal, err := principalFromClaims(claims)
	if err != nil {
		return nil, err
	}

	revoked, err := s.trl.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check token revocation")
	}
	if revoked {
		return nil, errTokenRevoked
	}

	sess, err := s.sessions.FindByID(ctx, principal.SessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, errSessionInactive
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	if sess.UserID != principal.UserID || !sess.IsActive(requestcontext.Now(ctx)) {
		return nil, errSessionInactive
	}
	return principal, nil
}

func principalFromClaims(claims *token.Claims) (*models.Principal, error) {
	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	sessionID, err := id.ParseSessionID(claims.SessionID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	principal := &models.Principal{
		UserID:    userID,
		SessionID: sessionID,
		Email:     claims.Email,
		JTI:       claims.ID,
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal, nil
}

// CurrentSession returns the session behind an authenticated request.
func (s *Service) CurrentSession(ctx context.Context, p *models.Principal) (*models.Session, error) {
	sess, err := s.sessions.FindByID(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, errSessionInactive
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	if !sess.IsActive(requestcontext.Now(ctx)) {
		return nil, errSessionInactive
	}
	return sess, nil
}

// SignOut revokes the session and its current access token. Signing out an
// already revoked session succeeds.
func (s *Service) SignOut(ctx context.Context, p *models.Principal) error {
	now := requestcontext.Now(ctx)
	sess, err := s.sessions.RevokeSessionIfActive(ctx, p.SessionID, now)
	switch {
	case errors.Is(err, session.ErrSessionRevoked), errors.Is(err, sentinel.ErrNotFound):
		s.logger.InfoContext(ctx, "sign-out of inactive session", "session_id", p.SessionID.String())
		return s.revokeToken(ctx, p.JTI, p.ExpiresAt, now)
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session")
	}

	if err := s.revokeToken(ctx, p.JTI, p.ExpiresAt, now); err != nil {
		return err
	}
	s.emitSecurity(ctx, audit.Event{
		UserID:  p.UserID,
		Subject: p.SessionID.String(),
		Action:  string(audit.EventSignedOut),
	})
	s.publish(ctx, models.EventSignedOut, sess, now)
	s.logger.InfoContext(ctx, "session ended",
		"user_id", p.UserID.String(),
		"session_id", p.SessionID.String(),
	)
	return nil
}

// RefreshToken exchanges a signed access token for a new one, even after it
// expired, as long as its session is active. The revocation list is not
// consulted: a token that was already rotated away fails the session's
// latest-token check and revokes the session.
func (s *Service) RefreshToken(ctx context.Context, tokenString string) (*models.AuthResult, error) {
	claims, err := s.tokens.ValidateRefreshToken(tokenString)
	if err != nil {
		return nil, err
	}
	principal, err := principalFromClaims(claims)
	if err != nil {
		return nil, err
	}
	return s.Refresh(ctx, principal)
}

// Refresh rotates the access token of the session. Presenting a token that
// is not the session's latest one revokes the whole session.
func (s *Service) Refresh(ctx context.Context, p *models.Principal) (*models.AuthResult, error) {
	now := requestcontext.Now(ctx)
	issued, err := s.tokens.GenerateAccessToken(p.UserID, p.SessionID, p.Email, s.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	errStaleToken := errors.New("stale token")
	sess, err := s.sessions.Execute(ctx, p.SessionID, func(sess *models.Session) error {
		if sess.UserID != p.UserID || !sess.IsActive(now) {
			return errSessionInactive
		}
		if sess.LastAccessTokenJTI != p.JTI {
			return errStaleToken
		}
		return nil
	}, func(sess *models.Session) {
		sess.LastAccessTokenJTI = issued.JTI
		sess.LastSeenAt = now
	})
	switch {
	case errors.Is(err, errStaleToken):
		return nil, s.revokeForReuse(ctx, p, now)
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, errSessionInactive
	case err != nil:
		if _, ok := dErrors.As(err); ok {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to refresh session")
	}

	if err := s.revokeToken(ctx, p.JTI, p.ExpiresAt, now); err != nil {
		return nil, err
	}
	s.emitSecurity(ctx, audit.Event{
		UserID:  p.UserID,
		Subject: p.SessionID.String(),
		Action:  string(audit.EventTokenRefreshed),
	})
	s.publish(ctx, models.EventTokenRefreshed, sess, now)

	user, err := s.users.FindByID(ctx, p.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return &models.AuthResult{AccessToken: issued.Token, ExpiresAt: issued.ExpiresAt, User: user, Session: sess}, nil
}

func (s *Service) revokeForReuse(ctx context.Context, p *models.Principal, now time.Time) error {
	sess, err := s.sessions.RevokeSessionIfActive(ctx, p.SessionID, now)
	if err != nil && !errors.Is(err, session.ErrSessionRevoked) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session")
	}
	if err := s.revokeToken(ctx, p.JTI, p.ExpiresAt, now); err != nil {
		return err
	}
	s.emitSecurity(ctx, audit.Event{
		UserID:  p.UserID,
		Subject: p.SessionID.String(),
		Action:  string(audit.EventSessionRevoked),
		Reason:  "token_reuse",
	})
	if sess != nil {
		s.publish(ctx, models.EventSessionRevoked, sess, now)
	}
	s.logger.WarnContext(ctx, "token reuse detected, session revoked",
		"user_id", p.UserID.String(),
		"session_id", p.SessionID.String(),
	)
	return errSessionInactive
}

func (s *Service) revokeToken(ctx context.Context, jti string, expiresAt, now time.Time) error {
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	if err := s.trl.RevokeToken(ctx, jti, ttl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke token")
	}
	return nil
}

// Subscribe streams session events for userID until cancel is called or ctx
// is done.
func (s *Service) Subscribe(ctx context.Context, userID id.UserID) (<-chan models.SessionEvent, func(), error) {
	if s.broker == nil {
		return nil, nil, dErrors.New(dErrors.CodeUnavailable, "session events are not enabled")
	}
	events, cancel, err := s.broker.Subscribe(ctx, userID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to subscribe to session events")
	}
	return events, cancel, nil
}
