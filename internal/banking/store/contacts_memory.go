package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"paybook/internal/banking/models"
	id "paybook/pkg/domain"
	"paybook/pkg/platform/sentinel"
)

type MemoryContactStore struct {
	db *MemoryDB
}

func (s *MemoryContactStore) CreateMany(ctx context.Context, contacts []*models.Contact) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, c := range contacts {
		clone := *c
		db.contacts[c.AccountID] = append(db.contacts[c.AccountID], &clone)
		accountID, contactID := c.AccountID, c.ID
		recordUndo(ctx, func() {
			db.contacts[accountID] = slices.DeleteFunc(db.contacts[accountID], func(x *models.Contact) bool {
				return x.ID == contactID
			})
		})
	}
	return nil
}

// FindByID only returns contacts owned by accountID.
func (s *MemoryContactStore) FindByID(_ context.Context, accountID id.UserID, contactID id.ContactID) (*models.Contact, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, c := range s.db.contacts[accountID] {
		if c.ID == contactID {
			clone := *c
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("contact not found: %w", sentinel.ErrNotFound)
}

func (s *MemoryContactStore) List(_ context.Context, accountID id.UserID, q models.ContactQuery) ([]*models.Contact, error) {
	s.db.mu.RLock()
	out := make([]*models.Contact, 0, len(s.db.contacts[accountID]))
	for _, c := range s.db.contacts[accountID] {
		if q.RecentOnly && !c.IsRecent {
			continue
		}
		clone := *c
		out = append(out, &clone)
	}
	s.db.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b *models.Contact) int {
		var cmp int
		switch q.OrderBy {
		case models.OrderByLastContacted:
			cmp = a.LastContacted.Compare(b.LastContacted)
		default:
			cmp = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
		if q.Descending {
			cmp = -cmp
		}
		return cmp
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Touch marks the contact recent as of now.
func (s *MemoryContactStore) Touch(ctx context.Context, accountID id.UserID, contactID id.ContactID, now time.Time) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, c := range db.contacts[accountID] {
		if c.ID == contactID {
			prevRecent, prevLast := c.IsRecent, c.LastContacted
			c.IsRecent = true
			c.LastContacted = now
			recordUndo(ctx, func() {
				c.IsRecent = prevRecent
				c.LastContacted = prevLast
			})
			return nil
		}
	}
	return fmt.Errorf("contact not found: %w", sentinel.ErrNotFound)
}
