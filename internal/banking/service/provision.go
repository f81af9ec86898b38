package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"paybook/internal/banking/models"
	"paybook/internal/banking/store"
	id "paybook/pkg/domain"
	dErrors "paybook/pkg/domain-errors"
	audit "paybook/pkg/platform/audit"
	"paybook/pkg/requestcontext"
)

// maxAccountNumberAttempts bounds retries on account number collisions.
const maxAccountNumberAttempts = 5

// Provision creates the account and the seed contacts for a fresh identity.
// Account and contacts commit together or not at all.
func (s *Service) Provision(ctx context.Context, req models.ProvisionRequest) (*models.Account, error) {
	ctx, span := s.tracer.Start(ctx, "banking.Provision")
	defer span.End()

	if req.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user id is required")
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "full name is required")
	}
	var phone *string
	if req.Phone != nil {
		if p := strings.TrimSpace(*req.Phone); p != "" {
			phone = &p
		}
	}

	var (
		account *models.Account
		err     error
	)
	for attempt := 1; attempt <= maxAccountNumberAttempts; attempt++ {
		account, err = s.provisionOnce(ctx, req.UserID, fullName, phone)
		if !errors.Is(err, store.ErrAccountNumberTaken) {
			break
		}
		s.metrics.IncrementProvisionRetries()
		s.logger.WarnContext(ctx, "account number collision, retrying",
			"user_id", req.UserID.String(),
			"attempt", attempt,
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provision failed")
		if errors.Is(err, store.ErrAccountNumberTaken) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "could not allocate an account number")
		}
		return nil, translate(err, "account not found", "failed to provision account")
	}

	span.SetAttributes(attribute.String("account_number", account.AccountNumber.String()))
	s.metrics.IncrementAccountsProvisioned()
	s.logger.InfoContext(ctx, "account provisioned",
		"user_id", account.ID.String(),
		"account_number", account.AccountNumber.String(),
	)
	return account, nil
}

func (s *Service) provisionOnce(ctx context.Context, userID id.UserID, fullName string, phone *string) (*models.Account, error) {
	now := requestcontext.Now(ctx)
	account := &models.Account{
		ID:            userID,
		FullName:      fullName,
		AccountNumber: s.nextAccountNumber(),
		Phone:         phone,
		Balance:       models.StartingBalance,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	contacts := make([]*models.Contact, 0, len(models.SeedContacts))
	for _, seed := range models.SeedContacts {
		contacts = append(contacts, &models.Contact{
			ID:            id.NewContactID(),
			AccountID:     userID,
			Name:          seed.Name,
			AccountNumber: seed.AccountNumber,
			IsRecent:      true,
			LastContacted: now,
			CreatedAt:     now,
		})
	}

	err := s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.accounts.Create(ctx, account); err != nil {
			return err
		}
		if err := s.contacts.CreateMany(ctx, contacts); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			UserID:        userID,
			Subject:       userID.String(),
			Action:        string(audit.EventAccountCreated),
			Amount:        account.Balance.String(),
			AccountNumber: account.AccountNumber.String(),
			ClientIP:      requestcontext.ClientIP(ctx),
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) nextAccountNumber() id.AccountNumber {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return id.GenerateAccountNumber(s.rng)
}
