package service

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"paybook/internal/banking/models"
	id "paybook/pkg/domain"
)

// Profile returns the account row. Failures surface to the caller.
func (s *Service) Profile(ctx context.Context, accountID id.UserID) (*models.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, translate(err, "account not found", "failed to load profile")
	}
	return account, nil
}

func (s *Service) Balance(ctx context.Context, accountID id.UserID) (decimal.Decimal, error) {
	account, err := s.Profile(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// History lists transactions newest first. A failed read is logged and
// yields an empty list.
func (s *Service) History(ctx context.Context, accountID id.UserID) []*models.Transaction {
	txns, err := s.transactions.ListByAccount(ctx, accountID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load history", "account_id", accountID.String(), "error", err)
		return []*models.Transaction{}
	}
	return txns
}

// Contacts lists every contact alphabetically.
func (s *Service) Contacts(ctx context.Context, accountID id.UserID) []*models.Contact {
	return s.listContacts(ctx, accountID, models.ContactQuery{OrderBy: models.OrderByName})
}

// RecentContacts lists recently paid contacts, most recent first.
func (s *Service) RecentContacts(ctx context.Context, accountID id.UserID) []*models.Contact {
	return s.listContacts(ctx, accountID, models.ContactQuery{
		RecentOnly: true,
		OrderBy:    models.OrderByLastContacted,
		Descending: true,
		Limit:      models.RecentContactsLimit,
	})
}

func (s *Service) listContacts(ctx context.Context, accountID id.UserID, q models.ContactQuery) []*models.Contact {
	contacts, err := s.contacts.List(ctx, accountID, q)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load contacts",
			"account_id", accountID.String(),
			"recent_only", q.RecentOnly,
			"error", err,
		)
		return []*models.Contact{}
	}
	return contacts
}

// Overview loads the home screen. Profile and recent contacts are read
// concurrently.
func (s *Service) Overview(ctx context.Context, accountID id.UserID) (*models.Overview, error) {
	var overview models.Overview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		profile, err := s.Profile(gctx, accountID)
		overview.Profile = profile
		return err
	})
	g.Go(func() error {
		overview.RecentContacts = s.RecentContacts(gctx, accountID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &overview, nil
}
