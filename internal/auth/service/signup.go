package service

import (
	"context"
	"errors"
	"strings"

	"paybook/internal/auth/models"
	bankmodels "paybook/internal/banking/models"
	id "paybook/pkg/domain"
	dErrors "paybook/pkg/domain-errors"
	"paybook/pkg/email"
	audit "paybook/pkg/platform/audit"
	"paybook/pkg/platform/sentinel"
	"paybook/pkg/requestcontext"
)

type SignUpRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName string  `json:"full_name"`
	Phone    *string `json:"phone,omitempty"`
}

// SignUp creates the identity, provisions its account and signs it in. When
// provisioning fails the identity is deleted again so the email can be
// reused.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*models.AuthResult, error) {
	address := email.Normalize(req.Email)
	if !email.IsValid(address) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid email address")
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if _, ok := dErrors.As(err); ok {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		fullName = email.DisplayName(address)
	}

	user := &models.User{
		ID:           id.NewUserID(),
		Email:        address,
		PasswordHash: hash,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "email already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}

	if err := s.emitCompliance(ctx, audit.Event{
		UserID:  user.ID,
		Subject: address,
		Action:  string(audit.EventUserCreated),
	}); err != nil {
		s.compensate(ctx, user, "audit failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}

	if _, err := s.provisioner.Provision(ctx, bankmodels.ProvisionRequest{
		UserID:   user.ID,
		FullName: fullName,
		Phone:    req.Phone,
	}); err != nil {
		s.compensate(ctx, user, "provisioning failed")
		if _, ok := dErrors.As(err); ok {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to provision account")
	}

	s.metrics.IncrementUsersCreated()
	s.logger.InfoContext(ctx, "user signed up",
		"user_id", user.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return s.startSession(ctx, user)
}

// compensate undoes the identity insert. Its own failure is logged; the
// caller already reports the original error.
func (s *Service) compensate(ctx context.Context, user *models.User, reason string) {
	if err := s.users.Delete(ctx, user.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete identity after sign-up failure",
			"user_id", user.ID.String(),
			"reason", reason,
			"error", err,
		)
		return
	}
	if err := s.emitCompliance(ctx, audit.Event{
		UserID:  user.ID,
		Subject: user.Email,
		Action:  string(audit.EventUserDeleted),
		Reason:  reason,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit identity deletion", "user_id", user.ID.String(), "error", err)
	}
	s.logger.WarnContext(ctx, "sign-up rolled back", "user_id", user.ID.String(), "reason", reason)
}
