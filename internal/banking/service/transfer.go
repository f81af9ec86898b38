package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"paybook/internal/banking/metrics"
	"paybook/internal/banking/models"
	"paybook/internal/banking/store"
	id "paybook/pkg/domain"
	dErrors "paybook/pkg/domain-errors"
	audit "paybook/pkg/platform/audit"
	"paybook/pkg/platform/sentinel"
	"paybook/pkg/requestcontext"
)

var (
	errNoRecipient         = dErrors.New(dErrors.CodeValidation, "no recipient")
	errInsufficientBalance = dErrors.New(dErrors.CodeValidation, "insufficient balance")
	errKeyReused           = dErrors.New(dErrors.CodeConflict, "idempotency key reused for a different transfer")
)

// Transfer debits the account and records the payment to one of its
// contacts. Validation happens before any write; the ledger entry, the
// conditional debit, the contact touch and the audit event share a single
// transaction. A repeated idempotency key returns the original transaction.
func (s *Service) Transfer(ctx context.Context, req models.TransferRequest) (result *models.TransferResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "banking.Transfer")
	defer span.End()

	var amount decimal.Decimal
	defer func() {
		s.metrics.ObserveTransfer(transferOutcome(result, err), amount, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
	}()

	if req.ContactID.IsNil() {
		return nil, errNoRecipient
	}
	amount, err = id.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("account_id", req.AccountID.String()),
		attribute.String("amount", amount.String()),
	)

	unlock := s.locks.Lock(req.AccountID)
	defer unlock()

	result, err = s.transferOnce(ctx, req, amount, key)
	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		// Another process committed the same key between our lookup and insert.
		result, err = s.replay(ctx, req, amount, key)
	}
	if err != nil {
		return nil, err
	}

	if result.Replayed {
		s.logger.InfoContext(ctx, "transfer replayed",
			"account_id", req.AccountID.String(),
			"transaction_id", result.Transaction.ID.String(),
		)
	} else {
		s.logger.InfoContext(ctx, "transfer completed",
			"account_id", req.AccountID.String(),
			"transaction_id", result.Transaction.ID.String(),
			"amount", amount.String(),
			"balance", result.Balance.String(),
		)
	}
	return result, nil
}

func (s *Service) transferOnce(ctx context.Context, req models.TransferRequest, amount decimal.Decimal, key string) (*models.TransferResult, error) {
	var result *models.TransferResult
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		contact, err := s.contacts.FindByID(ctx, req.AccountID, req.ContactID)
		if err != nil {
			return translate(err, "contact not found", "failed to load contact")
		}

		existing, err := s.transactions.FindByIdempotencyKey(ctx, req.AccountID, key)
		switch {
		case err == nil:
			result, err = s.replayed(ctx, existing, contact, amount)
			return err
		case !errors.Is(err, sentinel.ErrNotFound):
			return translate(err, "transaction not found", "failed to check idempotency key")
		}

		account, err := s.accounts.FindByID(ctx, req.AccountID)
		if err != nil {
			return translate(err, "account not found", "failed to load account")
		}
		if amount.GreaterThan(account.Balance) {
			return errInsufficientBalance
		}

		now := requestcontext.Now(ctx)
		description := strings.TrimSpace(req.Description)
		if description == "" {
			description = models.DefaultDescription
		}
		recipientName := contact.Name
		recipientAccount := contact.AccountNumber.String()
		txn := &models.Transaction{
			ID:               id.NewTransactionID(),
			AccountID:        req.AccountID,
			Type:             models.DirectionDebit,
			Amount:           amount,
			RecipientName:    &recipientName,
			RecipientAccount: &recipientAccount,
			Description:      &description,
			Status:           models.TransactionStatusCompleted,
			IdempotencyKey:   key,
			CreatedAt:        now,
		}
		if err := s.transactions.Create(ctx, txn); err != nil {
			if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
				return err
			}
			return translate(err, "transaction not found", "failed to record transaction")
		}

		balance, err := s.accounts.Debit(ctx, req.AccountID, amount, now)
		if err != nil {
			if errors.Is(err, sentinel.ErrPreconditionFailed) {
				return errInsufficientBalance
			}
			return translate(err, "account not found", "failed to debit account")
		}

		if err := s.contacts.Touch(ctx, req.AccountID, contact.ID, now); err != nil {
			return translate(err, "contact not found", "failed to update contact")
		}

		if err := s.emit(ctx, audit.Event{
			UserID:           req.AccountID,
			Subject:          req.AccountID.String(),
			Action:           string(audit.EventTransferCompleted),
			Amount:           amount.String(),
			AccountNumber:    account.AccountNumber.String(),
			RecipientAccount: recipientAccount,
			ReferenceID:      txn.ID.String(),
			ClientIP:         requestcontext.ClientIP(ctx),
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record transfer")
		}

		result = &models.TransferResult{Transaction: txn, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) replay(ctx context.Context, req models.TransferRequest, amount decimal.Decimal, key string) (*models.TransferResult, error) {
	contact, err := s.contacts.FindByID(ctx, req.AccountID, req.ContactID)
	if err != nil {
		return nil, translate(err, "contact not found", "failed to load contact")
	}
	existing, err := s.transactions.FindByIdempotencyKey(ctx, req.AccountID, key)
	if err != nil {
		return nil, translate(err, "transaction not found", "failed to load transaction")
	}
	return s.replayed(ctx, existing, contact, amount)
}

// replayed builds the result for a key seen before. The key must have been
// used for the same amount and recipient.
func (s *Service) replayed(ctx context.Context, existing *models.Transaction, contact *models.Contact, amount decimal.Decimal) (*models.TransferResult, error) {
	if !existing.Amount.Equal(amount) ||
		existing.RecipientAccount == nil || *existing.RecipientAccount != contact.AccountNumber.String() {
		return nil, errKeyReused
	}
	account, err := s.accounts.FindByID(ctx, existing.AccountID)
	if err != nil {
		return nil, translate(err, "account not found", "failed to load account")
	}
	return &models.TransferResult{Transaction: existing, Balance: account.Balance, Replayed: true}, nil
}

func transferOutcome(result *models.TransferResult, err error) string {
	switch {
	case err == nil && result.Replayed:
		return metrics.OutcomeReplayed
	case err == nil:
		return metrics.OutcomeCompleted
	case errors.Is(err, errInsufficientBalance):
		return metrics.OutcomeInsufficient
	case dErrors.HasCode(err, dErrors.CodeValidation),
		dErrors.HasCode(err, dErrors.CodeNotFound),
		dErrors.HasCode(err, dErrors.CodeConflict):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFailed
	}
}
