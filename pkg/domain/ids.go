package domain

import (
	"github.com/google/uuid"

	dErrors "paybook/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so a ContactID can never be passed
// where a UserID is expected. Construct them with the Parse* functions at
// trust boundaries; direct conversion skips validation.
type (
	// UserID identifies an identity and, one-to-one, its banking account.
	UserID        uuid.UUID
	SessionID     uuid.UUID
	ContactID     uuid.UUID
	TransactionID uuid.UUID
)

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	return parsed, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session id")
	return SessionID(u), err
}

func ParseContactID(s string) (ContactID, error) {
	u, err := parseUUID(s, "contact id")
	return ContactID(u), err
}

func ParseTransactionID(s string) (TransactionID, error) {
	u, err := parseUUID(s, "transaction id")
	return TransactionID(u), err
}

func NewUserID() UserID               { return UserID(uuid.New()) }
func NewSessionID() SessionID         { return SessionID(uuid.New()) }
func NewContactID() ContactID         { return ContactID(uuid.New()) }
func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }

func (id UserID) String() string        { return uuid.UUID(id).String() }
func (id SessionID) String() string     { return uuid.UUID(id).String() }
func (id ContactID) String() string     { return uuid.UUID(id).String() }
func (id TransactionID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ContactID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id TransactionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Text marshalling keeps JSON payloads in canonical UUID form.

func (id UserID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id SessionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *SessionID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ContactID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *ContactID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id TransactionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *TransactionID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
