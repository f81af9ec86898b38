package httptransport

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	bankmodels "paybook/internal/banking/models"
	id "paybook/pkg/domain"
	"paybook/pkg/platform/httputil"
)

// IdempotencyKeyHeader lets a client retry a transfer without paying twice.
const IdempotencyKeyHeader = "Idempotency-Key"

type BankingHandler struct {
	banking BankingService
	logger  *slog.Logger
}

func NewBankingHandler(svc BankingService, logger *slog.Logger) *BankingHandler {
	return &BankingHandler{banking: svc, logger: logger}
}

// TransferRequest accepts the amount as a JSON number or a decimal string.
type TransferRequest struct {
	ContactID   string    `json:"contact_id"`
	Amount      rawAmount `json:"amount"`
	Description string    `json:"description,omitempty"`
}

// rawAmount keeps whatever the client sent so that a malformed amount is
// reported by the transfer validation, after the recipient check.
type rawAmount string

func (a *rawAmount) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		*a = rawAmount(s)
		return nil
	}
	*a = rawAmount(bytes.TrimSpace(raw))
	return nil
}

type BalanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type ContactsResponse struct {
	Contacts []*bankmodels.Contact `json:"contacts"`
}

type TransactionsResponse struct {
	Transactions []*bankmodels.Transaction `json:"transactions"`
}

func (h *BankingHandler) Register(r chi.Router) {
	r.Get("/me", h.HandleProfile)
	r.Get("/me/balance", h.HandleBalance)
	r.Get("/me/overview", h.HandleOverview)
	r.Get("/contacts", h.HandleContacts)
	r.Get("/contacts/recent", h.HandleRecentContacts)
	r.Get("/transactions", h.HandleHistory)
	r.Post("/transfers", h.HandleTransfer)
}

func (h *BankingHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	account, err := h.banking.Profile(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, "profile lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

func (h *BankingHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	balance, err := h.banking.Balance(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, "balance lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BalanceResponse{Balance: balance})
}

func (h *BankingHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	overview, err := h.banking.Overview(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, "overview failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, overview)
}

func (h *BankingHandler) HandleContacts(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ContactsResponse{Contacts: nonNil(h.banking.Contacts(r.Context(), p.UserID))})
}

func (h *BankingHandler) HandleRecentContacts(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ContactsResponse{Contacts: nonNil(h.banking.RecentContacts(r.Context(), p.UserID))})
}

func (h *BankingHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TransactionsResponse{Transactions: nonNil(h.banking.History(r.Context(), p.UserID))})
}

// HandleTransfer answers 201 for a new transfer and 200 when the
// idempotency key matched an earlier one.
func (h *BankingHandler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeJSON[TransferRequest](w, r, h.logger)
	if !ok {
		return
	}
	var contactID id.ContactID
	if body.ContactID != "" {
		parsed, err := id.ParseContactID(body.ContactID)
		if err != nil {
			h.writeError(w, r, "invalid contact id", err)
			return
		}
		contactID = parsed
	}

	result, err := h.banking.Transfer(r.Context(), bankmodels.TransferRequest{
		AccountID:      p.UserID,
		ContactID:      contactID,
		Amount:         string(body.Amount),
		Description:    body.Description,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		h.writeError(w, r, "transfer failed", err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, result)
}

func (h *BankingHandler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logError(r, h.logger, msg, err)
	httputil.WriteError(w, err)
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
