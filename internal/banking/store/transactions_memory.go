package store

import (
	"context"
	"fmt"
	"slices"

	"paybook/internal/banking/models"
	id "paybook/pkg/domain"
	"paybook/pkg/platform/sentinel"
)

type MemoryTransactionStore struct {
	db *MemoryDB
}

func (s *MemoryTransactionStore) Create(ctx context.Context, txn *models.Transaction) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, existing := range db.transactions[txn.AccountID] {
		if txn.IdempotencyKey != "" && existing.IdempotencyKey == txn.IdempotencyKey {
			return ErrDuplicateIdempotencyKey
		}
	}
	clone := *txn
	db.transactions[txn.AccountID] = append(db.transactions[txn.AccountID], &clone)
	accountID, txnID := txn.AccountID, txn.ID
	recordUndo(ctx, func() {
		db.transactions[accountID] = slices.DeleteFunc(db.transactions[accountID], func(x *models.Transaction) bool {
			return x.ID == txnID
		})
	})
	return nil
}

func (s *MemoryTransactionStore) FindByIdempotencyKey(_ context.Context, accountID id.UserID, key string) (*models.Transaction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, txn := range s.db.transactions[accountID] {
		if txn.IdempotencyKey == key {
			clone := *txn
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("transaction not found: %w", sentinel.ErrNotFound)
}

// ListByAccount returns the account's transactions, newest first.
func (s *MemoryTransactionStore) ListByAccount(_ context.Context, accountID id.UserID) ([]*models.Transaction, error) {
	s.db.mu.RLock()
	out := make([]*models.Transaction, 0, len(s.db.transactions[accountID]))
	for _, txn := range s.db.transactions[accountID] {
		clone := *txn
		out = append(out, &clone)
	}
	s.db.mu.RUnlock()

	// Stable sort on a slice kept in insertion order; reversing first puts
	// later inserts ahead when timestamps tie.
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b *models.Transaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}
