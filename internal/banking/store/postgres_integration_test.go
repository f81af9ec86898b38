//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"paybook/internal/banking/models"
	"paybook/internal/banking/store"
	id "paybook/pkg/domain"
	"paybook/pkg/platform/sentinel"
	txcontext "paybook/pkg/platform/tx"
	"paybook/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg           *containers.PostgresContainer
	accounts     *store.PostgresAccountStore
	contacts     *store.PostgresContactStore
	transactions *store.PostgresTransactionStore
	runner       *txcontext.Runner
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.accounts = store.NewPostgresAccounts(s.pg.DB)
	s.contacts = store.NewPostgresContacts(s.pg.DB)
	s.transactions = store.NewPostgresTransactions(s.pg.DB)
	s.runner = txcontext.NewRunner(s.pg.DB, 5*time.Second)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "transactions", "contacts", "accounts", "users"))
}

func (s *PostgresStoreSuite) newAccount(balance int64) *models.Account {
	ctx := context.Background()
	userID := id.NewUserID()
	_, err := s.pg.DB.ExecContext(ctx, `INSERT INTO users (id, email, password_hash) VALUES ($1, $2, 'x')`,
		uuid.UUID(userID), uuid.NewString()+"@example.com")
	s.Require().NoError(err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	a := &models.Account{
		ID: userID, FullName: "Test", AccountNumber: id.GenerateAccountNumber(nil),
		Balance: decimal.NewFromInt(balance), CreatedAt: now, UpdatedAt: now,
	}
	s.Require().NoError(s.accounts.Create(ctx, a))
	return a
}

func (s *PostgresStoreSuite) TestAccountNumberCollision() {
	a := s.newAccount(1)
	other := s.newAccount(1)
	dup := *other
	dup.ID = id.NewUserID()
	_, err := s.pg.DB.Exec(`INSERT INTO users (id, email, password_hash) VALUES ($1, $2, 'x')`, uuid.UUID(dup.ID), "dup@example.com")
	s.Require().NoError(err)
	dup.AccountNumber = a.AccountNumber

	s.ErrorIs(s.accounts.Create(context.Background(), &dup), store.ErrAccountNumberTaken)
}

func (s *PostgresStoreSuite) TestConditionalDebit() {
	ctx := context.Background()
	a := s.newAccount(100)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.accounts.Debit(ctx, a.ID, decimal.NewFromInt(7), time.Now())
			if err == nil {
				ok.Add(1)
			} else {
				s.ErrorIs(err, sentinel.ErrPreconditionFailed)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(14), ok.Load())
	found, err := s.accounts.FindByID(ctx, a.ID)
	s.Require().NoError(err)
	s.True(found.Balance.Equal(decimal.NewFromInt(2)), found.Balance.String())

	_, err = s.accounts.Debit(ctx, id.NewUserID(), decimal.NewFromInt(1), time.Now())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestTransferUnitRollsBack() {
	ctx := context.Background()
	a := s.newAccount(100)
	c := &models.Contact{ID: id.NewContactID(), AccountID: a.ID, Name: "Bob", AccountNumber: "GB12345678",
		LastContacted: time.Now(), CreatedAt: time.Now()}
	s.Require().NoError(s.contacts.CreateMany(ctx, []*models.Contact{c}))

	err := s.runner.Run(ctx, func(ctx context.Context) error {
		name := c.Name
		if err := s.transactions.Create(ctx, &models.Transaction{
			ID: id.NewTransactionID(), AccountID: a.ID, Type: models.DirectionDebit, Amount: decimal.NewFromInt(500),
			RecipientName: &name, Status: models.TransactionStatusCompleted, IdempotencyKey: "k", CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		_, err := s.accounts.Debit(ctx, a.ID, decimal.NewFromInt(500), time.Now())
		return err
	})
	s.ErrorIs(err, store.ErrInsufficientFunds)

	history, err := s.transactions.ListByAccount(ctx, a.ID)
	s.Require().NoError(err)
	s.Empty(history)
}

func (s *PostgresStoreSuite) TestContactsAndHistory() {
	ctx := context.Background()
	a := s.newAccount(100)
	now := time.Now().UTC().Truncate(time.Microsecond)
	var contacts []*models.Contact
	for i, seed := range models.SeedContacts {
		contacts = append(contacts, &models.Contact{
			ID: id.NewContactID(), AccountID: a.ID, Name: seed.Name, AccountNumber: seed.AccountNumber,
			LastContacted: now.Add(time.Duration(i) * time.Second), CreatedAt: now,
		})
	}
	s.Require().NoError(s.contacts.CreateMany(ctx, contacts))

	list, err := s.contacts.List(ctx, a.ID, models.ContactQuery{OrderBy: models.OrderByName})
	s.Require().NoError(err)
	s.Require().Len(list, 5)
	s.Equal("Aatmaram Bhide", list[0].Name)

	s.Require().NoError(s.contacts.Touch(ctx, a.ID, contacts[3].ID, now.Add(time.Minute)))
	recent, err := s.contacts.List(ctx, a.ID, models.ContactQuery{
		RecentOnly: true, OrderBy: models.OrderByLastContacted, Descending: true, Limit: models.RecentContactsLimit,
	})
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal(contacts[3].ID, recent[0].ID)

	desc := "Rent"
	txn := &models.Transaction{ID: id.NewTransactionID(), AccountID: a.ID, Type: models.DirectionDebit,
		Amount: decimal.RequireFromString("12.50"), Description: &desc, Status: models.TransactionStatusCompleted,
		IdempotencyKey: "key-1", CreatedAt: now}
	s.Require().NoError(s.transactions.Create(ctx, txn))
	s.ErrorIs(s.transactions.Create(ctx, txn), store.ErrDuplicateIdempotencyKey)

	found, err := s.transactions.FindByIdempotencyKey(ctx, a.ID, "key-1")
	s.Require().NoError(err)
	s.True(found.Amount.Equal(txn.Amount))
	s.Equal("Rent", *found.Description)
	s.Nil(found.RecipientName)
}
