package audit

import (
	"time"

	id "paybook/pkg/domain"
)

// EventCategory classifies audit events by retention and delivery needs.
type EventCategory string

const (
	// CategoryCompliance covers money movement and account lifecycle. These
	// are written fail-closed in the same transaction as the change.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers authentication outcomes and revocations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Kept
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	Subject   string
	Action    string
	Reason    string
	// Money movement details, empty for non-transfer events.
	Amount           string
	AccountNumber    string
	RecipientAccount string
	ReferenceID      string
	RequestID        string
	ClientIP         string
}

type AuditEvent string

const (
	EventUserCreated       AuditEvent = "user_created"
	EventUserDeleted       AuditEvent = "user_deleted"
	EventAccountCreated    AuditEvent = "account_created"
	EventTransferCompleted AuditEvent = "transfer_completed"

	EventAuthFailed     AuditEvent = "auth_failed"
	EventSessionRevoked AuditEvent = "session_revoked"

	EventSignedIn       AuditEvent = "signed_in"
	EventSignedOut      AuditEvent = "signed_out"
	EventTokenRefreshed AuditEvent = "token_refreshed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventUserCreated:       CategoryCompliance,
	EventUserDeleted:       CategoryCompliance,
	EventAccountCreated:    CategoryCompliance,
	EventTransferCompleted: CategoryCompliance,

	EventAuthFailed:     CategorySecurity,
	EventSessionRevoked: CategorySecurity,

	EventSignedIn:       CategoryOperations,
	EventSignedOut:      CategoryOperations,
	EventTokenRefreshed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
