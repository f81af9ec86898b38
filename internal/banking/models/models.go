package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "paybook/pkg/domain"
)

// StartingBalance is credited to every account at sign-up.
var StartingBalance = decimal.NewFromInt(50000)

// Account is the banking profile of an identity. Its ID is the identity's
// UserID, so there is exactly one account per user.
type Account struct {
	ID            id.UserID        `json:"id"`
	FullName      string           `json:"full_name"`
	AccountNumber id.AccountNumber `json:"account_number"`
	Phone         *string          `json:"phone,omitempty"`
	Balance       decimal.Decimal  `json:"balance"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Contact is a saved payee owned by one account.
type Contact struct {
	ID            id.ContactID     `json:"id"`
	AccountID     id.UserID        `json:"account_id"`
	Name          string           `json:"contact_name"`
	AccountNumber id.AccountNumber `json:"account_number"`
	IsRecent      bool             `json:"is_recent"`
	LastContacted time.Time        `json:"last_contacted"`
	CreatedAt     time.Time        `json:"created_at"`
}

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

type TransactionStatus string

const TransactionStatusCompleted TransactionStatus = "completed"

// DefaultDescription is used when a transfer carries no description.
const DefaultDescription = "Payment"

// Transaction is an immutable ledger entry. Counterparty fields are a
// snapshot taken at transfer time.
type Transaction struct {
	ID               id.TransactionID  `json:"id"`
	AccountID        id.UserID         `json:"account_id"`
	Type             Direction         `json:"transaction_type"`
	Amount           decimal.Decimal   `json:"amount"`
	RecipientName    *string           `json:"recipient_name,omitempty"`
	RecipientAccount *string           `json:"recipient_account,omitempty"`
	Description      *string           `json:"description,omitempty"`
	Status           TransactionStatus `json:"status"`
	IdempotencyKey   string            `json:"-"`
	CreatedAt        time.Time         `json:"created_at"`
}

type ContactOrder string

const (
	OrderByName          ContactOrder = "name"
	OrderByLastContacted ContactOrder = "last_contacted"
)

// ContactQuery filters, sorts and limits a contact listing. Limit <= 0
// means unlimited.
type ContactQuery struct {
	RecentOnly bool
	OrderBy    ContactOrder
	Descending bool
	Limit      int
}

// SeedContact is one of the payees every new account starts with.
type SeedContact struct {
	Name          string
	AccountNumber id.AccountNumber
}

var SeedContacts = []SeedContact{
	{Name: "Jethalal Gada", AccountNumber: "GB10234567"},
	{Name: "Taarak Mehta", AccountNumber: "GB10234568"},
	{Name: "Aatmaram Bhide", AccountNumber: "GB10234569"},
	{Name: "Champak Lal", AccountNumber: "GB10234570"},
	{Name: "Dr. Hathi", AccountNumber: "GB10234571"},
}

// RecentContactsLimit bounds the home screen's recent list.
const RecentContactsLimit = 5

type ProvisionRequest struct {
	UserID   id.UserID
	FullName string
	Phone    *string
}

type TransferRequest struct {
	AccountID      id.UserID
	ContactID      id.ContactID
	Amount         string
	Description    string
	IdempotencyKey string
}

type TransferResult struct {
	Transaction *Transaction    `json:"transaction"`
	Balance     decimal.Decimal `json:"balance"`
	Replayed    bool            `json:"replayed"`
}

// Overview is the home screen: profile and recent contacts.
type Overview struct {
	Profile        *Account   `json:"profile"`
	RecentContacts []*Contact `json:"recent_contacts"`
}
