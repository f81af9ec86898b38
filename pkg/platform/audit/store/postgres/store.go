package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "paybook/pkg/platform/audit"
	txcontext "paybook/pkg/platform/tx"
)

// Store implements audit.Store with the transactional outbox: events land
// in the outbox table inside the caller's transaction and the relay
// publishes them to Kafka.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Payload is the JSON published for each outbox entry.
type Payload struct {
	ID               string `json:"id"`
	Category         string `json:"category"`
	Timestamp        string `json:"timestamp"`
	UserID           string `json:"user_id,omitempty"`
	Subject          string `json:"subject,omitempty"`
	Action           string `json:"action"`
	Reason           string `json:"reason,omitempty"`
	Amount           string `json:"amount,omitempty"`
	AccountNumber    string `json:"account_number,omitempty"`
	RecipientAccount string `json:"recipient_account,omitempty"`
	ReferenceID      string `json:"reference_id,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	category := audit.AuditEvent(event.Action).Category()

	payload := Payload{
		ID:               eventID.String(),
		Category:         string(category),
		Timestamp:        event.Timestamp.UTC().Format(time.RFC3339Nano),
		Subject:          event.Subject,
		Action:           event.Action,
		Reason:           event.Reason,
		Amount:           event.Amount,
		AccountNumber:    event.AccountNumber,
		RecipientAccount: event.RecipientAccount,
		ReferenceID:      event.ReferenceID,
		RequestID:        event.RequestID,
	}
	aggregateType := "audit"
	aggregateID := eventID.String()
	if !event.UserID.IsNil() {
		payload.UserID = event.UserID.String()
		aggregateType = "account"
		aggregateID = event.UserID.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, eventID, aggregateType, aggregateID, event.Action, body, time.Now())
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}
