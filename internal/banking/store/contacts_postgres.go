package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"paybook/internal/banking/models"
	id "paybook/pkg/domain"
	"paybook/pkg/platform/sentinel"
	txcontext "paybook/pkg/platform/tx"
)

type PostgresContactStore struct {
	db *sql.DB
}

func NewPostgresContacts(db *sql.DB) *PostgresContactStore {
	return &PostgresContactStore{db: db}
}

func (s *PostgresContactStore) CreateMany(ctx context.Context, contacts []*models.Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	var (
		b    strings.Builder
		args = make([]any, 0, len(contacts)*7)
	)
	b.WriteString(`INSERT INTO contacts (id, account_id, contact_name, account_number, is_recent, last_contacted, created_at) VALUES `)
	for i, c := range contacts {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 7
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args, uuid.UUID(c.ID), uuid.UUID(c.AccountID), c.Name, c.AccountNumber.String(), c.IsRecent, c.LastContacted, c.CreatedAt)
	}
	if _, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert contacts: %w", err)
	}
	return nil
}

const contactColumns = `id, account_id, contact_name, account_number, is_recent, last_contacted, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var (
		c                   models.Contact
		rawID, rawAccountID uuid.UUID
		num                 string
	)
	if err := row.Scan(&rawID, &rawAccountID, &c.Name, &num, &c.IsRecent, &c.LastContacted, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ID = id.ContactID(rawID)
	c.AccountID = id.UserID(rawAccountID)
	c.AccountNumber = id.AccountNumber(num)
	return &c, nil
}

func (s *PostgresContactStore) FindByID(ctx context.Context, accountID id.UserID, contactID id.ContactID) (*models.Contact, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND account_id = $2`,
		uuid.UUID(contactID), uuid.UUID(accountID))
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("contact not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find contact: %w", err)
	}
	return c, nil
}

func (s *PostgresContactStore) List(ctx context.Context, accountID id.UserID, q models.ContactQuery) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE account_id = $1`
	if q.RecentOnly {
		query += ` AND is_recent`
	}
	column := "contact_name"
	if q.OrderBy == models.OrderByLastContacted {
		column = "last_contacted"
	}
	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}
	query += ` ORDER BY ` + column + ` ` + direction + `, id`
	args := []any{uuid.UUID(accountID)}
	if q.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, q.Limit)
	}

	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return out, nil
}

func (s *PostgresContactStore) Touch(ctx context.Context, accountID id.UserID, contactID id.ContactID, now time.Time) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE contacts SET is_recent = TRUE, last_contacted = $3
		WHERE id = $1 AND account_id = $2
	`, uuid.UUID(contactID), uuid.UUID(accountID), now)
	if err != nil {
		return fmt.Errorf("touch contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch contact: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("contact not found: %w", sentinel.ErrNotFound)
	}
	return nil
}
