package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paybook/internal/banking/models"
	"paybook/internal/platform/postgres"
	id "paybook/pkg/domain"
	"paybook/pkg/platform/sentinel"
	txcontext "paybook/pkg/platform/tx"
)

const accountNumberConstraint = "accounts_account_number_key"

type PostgresAccountStore struct {
	db *sql.DB
}

func NewPostgresAccounts(db *sql.DB) *PostgresAccountStore {
	return &PostgresAccountStore{db: db}
}

func (s *PostgresAccountStore) Create(ctx context.Context, a *models.Account) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO accounts (id, full_name, account_number, phone, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(a.ID), a.FullName, a.AccountNumber.String(), nullable(a.Phone), a.Balance, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err, accountNumberConstraint) {
			return ErrAccountNumberTaken
		}
		if postgres.IsUniqueViolation(err, "") {
			return fmt.Errorf("account already exists: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PostgresAccountStore) FindByID(ctx context.Context, accountID id.UserID) (*models.Account, error) {
	var (
		a     models.Account
		rawID uuid.UUID
		num   string
		phone sql.NullString
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, full_name, account_number, phone, balance, created_at, updated_at
		FROM accounts WHERE id = $1
	`, uuid.UUID(accountID)).Scan(&rawID, &a.FullName, &num, &phone, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	a.ID = id.UserID(rawID)
	a.AccountNumber = id.AccountNumber(num)
	a.Phone = fromNullable(phone)
	return &a, nil
}

// Debit is a single conditional UPDATE, so two concurrent debits can never
// both pass the balance check against the same snapshot.
func (s *PostgresAccountStore) Debit(ctx context.Context, accountID id.UserID, amount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	exec := txcontext.Exec(ctx, s.db)
	var balance decimal.Decimal
	err := exec.QueryRowContext(ctx, `
		UPDATE accounts SET balance = balance - $2, updated_at = $3
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`, uuid.UUID(accountID), amount, now).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("debit account: %w", err)
	}

	var exists bool
	if err := exec.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, uuid.UUID(accountID)).Scan(&exists); err != nil {
		return decimal.Zero, fmt.Errorf("debit account: %w", err)
	}
	if !exists {
		return decimal.Zero, fmt.Errorf("account not found: %w", sentinel.ErrNotFound)
	}
	return decimal.Zero, ErrInsufficientFunds
}
