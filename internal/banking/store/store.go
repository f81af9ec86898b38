// Package store persists accounts, contacts and transactions. The in-memory
// implementation and the PostgreSQL implementation share semantics: writes
// made through a transaction context commit or roll back together.
package store

import (
	"fmt"

	"paybook/pkg/platform/sentinel"
)

var (
	// ErrAccountNumberTaken signals a unique collision on account_number.
	ErrAccountNumberTaken = fmt.Errorf("account number taken: %w", sentinel.ErrConflict)

	// ErrDuplicateIdempotencyKey signals a transaction with the same
	// (account, idempotency key) already exists.
	ErrDuplicateIdempotencyKey = fmt.Errorf("duplicate idempotency key: %w", sentinel.ErrConflict)

	// ErrInsufficientFunds is returned by a conditional debit whose
	// predicate (balance >= amount) did not hold at write time.
	ErrInsufficientFunds = fmt.Errorf("insufficient funds: %w", sentinel.ErrPreconditionFailed)
)
