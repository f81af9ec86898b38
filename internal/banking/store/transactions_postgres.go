package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"paybook/internal/banking/models"
	"paybook/internal/platform/postgres"
	id "paybook/pkg/domain"
	"paybook/pkg/platform/sentinel"
	txcontext "paybook/pkg/platform/tx"
)

type PostgresTransactionStore struct {
	db *sql.DB
}

func NewPostgresTransactions(db *sql.DB) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db}
}

func (s *PostgresTransactionStore) Create(ctx context.Context, t *models.Transaction) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, transaction_type, amount, recipient_name,
			recipient_account, description, status, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, uuid.UUID(t.ID), uuid.UUID(t.AccountID), string(t.Type), t.Amount,
		nullable(t.RecipientName), nullable(t.RecipientAccount), nullable(t.Description),
		string(t.Status), t.IdempotencyKey, t.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, account_id, transaction_type, amount, recipient_name,
	recipient_account, description, status, idempotency_key, created_at`

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		t                       models.Transaction
		rawID, rawAccountID     uuid.UUID
		kind, status            string
		name, account, describe sql.NullString
	)
	err := row.Scan(&rawID, &rawAccountID, &kind, &t.Amount, &name, &account, &describe, &status, &t.IdempotencyKey, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.ID = id.TransactionID(rawID)
	t.AccountID = id.UserID(rawAccountID)
	t.Type = models.Direction(kind)
	t.Status = models.TransactionStatus(status)
	t.RecipientName = fromNullable(name)
	t.RecipientAccount = fromNullable(account)
	t.Description = fromNullable(describe)
	return &t, nil
}

func (s *PostgresTransactionStore) FindByIdempotencyKey(ctx context.Context, accountID id.UserID, key string) (*models.Transaction, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE account_id = $1 AND idempotency_key = $2`,
		uuid.UUID(accountID), key)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return t, nil
}

func (s *PostgresTransactionStore) ListByAccount(ctx context.Context, accountID id.UserID) ([]*models.Transaction, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE account_id = $1 ORDER BY created_at DESC, id`,
		uuid.UUID(accountID))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
