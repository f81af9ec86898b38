package service

import (
	"context"
	"errors"

	"paybook/internal/auth/device"
	"paybook/internal/auth/models"
	id "paybook/pkg/domain"
	dErrors "paybook/pkg/domain-errors"
	"paybook/pkg/email"
	audit "paybook/pkg/platform/audit"
	"paybook/pkg/platform/sentinel"
	"paybook/pkg/requestcontext"
)

var errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")

// SignIn checks the credentials and opens a new session.
func (s *Service) SignIn(ctx context.Context, address, password string) (*models.AuthResult, error) {
	address = email.Normalize(address)
	if address == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.authFailed(ctx, id.UserID{}, address, "unknown_email")
			return nil, errInvalidCredentials
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if err := s.hasher.Verify(password, user.PasswordHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.authFailed(ctx, user.ID, address, "bad_password")
			return nil, errInvalidCredentials
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
	}
	return s.startSession(ctx, user)
}

func (s *Service) authFailed(ctx context.Context, userID id.UserID, address, reason string) {
	s.metrics.IncrementAuthFailure(reason)
	s.emitSecurity(ctx, audit.Event{
		UserID:  userID,
		Subject: address,
		Action:  string(audit.EventAuthFailed),
		Reason:  reason,
	})
	s.logger.WarnContext(ctx, "sign-in failed",
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
	)
}

func (s *Service) startSession(ctx context.Context, user *models.User) (*models.AuthResult, error) {
	now := requestcontext.Now(ctx)
	session := &models.Session{
		ID:                id.NewSessionID(),
		UserID:            user.ID,
		Email:             user.Email,
		Status:            models.SessionStatusActive,
		DeviceDisplayName: device.ParseUserAgent(requestcontext.UserAgent(ctx)),
		ClientIP:          requestcontext.ClientIP(ctx),
		CreatedAt:         now,
		LastSeenAt:        now,
		ExpiresAt:         now.Add(s.cfg.SessionTTL),
	}
	issued, err := s.tokens.GenerateAccessToken(user.ID, session.ID, user.Email, s.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	session.LastAccessTokenJTI = issued.JTI

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}

	s.metrics.IncrementSessionsCreated()
	s.emitSecurity(ctx, audit.Event{
		UserID:  user.ID,
		Subject: session.ID.String(),
		Action:  string(audit.EventSignedIn),
	})
	s.publish(ctx, models.EventSignedIn, session, now)
	s.logger.InfoContext(ctx, "session started",
		"user_id", user.ID.String(),
		"session_id", session.ID.String(),
		"device", session.DeviceDisplayName,
	)

	return &models.AuthResult{
		AccessToken: issued.Token,
		ExpiresAt:   issued.ExpiresAt,
		User:        user,
		Session:     session,
	}, nil
}
