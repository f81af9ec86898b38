package store

import (
	"context"
	"sync"

	"paybook/internal/banking/models"
	id "paybook/pkg/domain"
)

// MemoryDB backs the three in-memory stores. Run is a coarse transaction:
// one writer at a time, and every mutation made under it records an undo
// step that is replayed in reverse if fn fails.
type MemoryDB struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	accounts     map[id.UserID]*models.Account
	accountNums  map[id.AccountNumber]id.UserID
	contacts     map[id.UserID][]*models.Contact
	transactions map[id.UserID][]*models.Transaction
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts:     make(map[id.UserID]*models.Account),
		accountNums:  make(map[id.AccountNumber]id.UserID),
		contacts:     make(map[id.UserID][]*models.Contact),
		transactions: make(map[id.UserID][]*models.Transaction),
	}
}

type memTxKey struct{}

type memTx struct {
	undo []func()
}

// Run executes fn as one unit. Nested calls join the outer unit.
func (db *MemoryDB) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		db.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		db.mu.Unlock()
		return err
	}
	return nil
}

// recordUndo must be called with db.mu held for writing.
func recordUndo(ctx context.Context, step func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, step)
	}
}

func (db *MemoryDB) Accounts() *MemoryAccountStore { return &MemoryAccountStore{db: db} }

func (db *MemoryDB) Contacts() *MemoryContactStore { return &MemoryContactStore{db: db} }

func (db *MemoryDB) Transactions() *MemoryTransactionStore {
	return &MemoryTransactionStore{db: db}
}
