package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"paybook/internal/banking/models"
	id "paybook/pkg/domain"
	"paybook/pkg/platform/sentinel"
)

type MemoryAccountStore struct {
	db *MemoryDB
}

func (s *MemoryAccountStore) Create(ctx context.Context, account *models.Account) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.accounts[account.ID]; exists {
		return fmt.Errorf("account already exists: %w", sentinel.ErrConflict)
	}
	if _, taken := db.accountNums[account.AccountNumber]; taken {
		return ErrAccountNumberTaken
	}
	clone := *account
	db.accounts[account.ID] = &clone
	db.accountNums[account.AccountNumber] = account.ID
	recordUndo(ctx, func() {
		delete(db.accounts, account.ID)
		delete(db.accountNums, account.AccountNumber)
	})
	return nil
}

func (s *MemoryAccountStore) FindByID(_ context.Context, accountID id.UserID) (*models.Account, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	account, ok := s.db.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account not found: %w", sentinel.ErrNotFound)
	}
	clone := *account
	return &clone, nil
}

// Debit subtracts amount only if the balance covers it, and returns the new
// balance.
func (s *MemoryAccountStore) Debit(ctx context.Context, accountID id.UserID, amount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	account, ok := db.accounts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("account not found: %w", sentinel.ErrNotFound)
	}
	if account.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}
	prevBalance, prevUpdated := account.Balance, account.UpdatedAt
	account.Balance = account.Balance.Sub(amount)
	account.UpdatedAt = now
	recordUndo(ctx, func() {
		account.Balance = prevBalance
		account.UpdatedAt = prevUpdated
	})
	return account.Balance, nil
}
