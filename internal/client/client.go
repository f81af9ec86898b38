// Package client talks to the paybook HTTP API. It implements
// session.Backend and adds the banking calls the CLI needs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	bankmodels "paybook/internal/banking/models"
	"paybook/internal/platform/config"
	"paybook/internal/session"
	dErrors "paybook/pkg/domain-errors"
	"paybook/pkg/platform/httputil"
)

const maxErrorBody = 64 << 10

var _ session.Backend = (*Client)(nil)

type Client struct {
	baseURL string
	http    *http.Client
	// stream has no overall timeout; event streams stay open.
	stream *http.Client
	logger *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
			c.stream = &http.Client{Transport: hc.Transport}
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(cfg config.Client, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		stream:  &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type authResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        session.User `json:"user"`
}

func (r *authResponse) credentials() *session.Credentials {
	return &session.Credentials{AccessToken: r.AccessToken, ExpiresAt: r.ExpiresAt, User: r.User}
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*session.Credentials, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/signin", "", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.credentials(), nil
}

func (c *Client) SignUp(ctx context.Context, in session.SignUpInput) (*session.Credentials, error) {
	body := struct {
		Email    string  `json:"email"`
		Password string  `json:"password"`
		FullName string  `json:"full_name,omitempty"`
		Phone    *string `json:"phone,omitempty"`
	}{in.Email, in.Password, in.FullName, in.Phone}
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", "", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.credentials(), nil
}

func (c *Client) SignOut(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/signout", token, nil, nil, nil)
}

func (c *Client) Refresh(ctx context.Context, token string) (*session.Credentials, error) {
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", token, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.credentials(), nil
}

func (c *Client) CurrentUser(ctx context.Context, token string) (*session.User, error) {
	var resp struct {
		User session.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/session", token, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

func (c *Client) Profile(ctx context.Context, token string) (*bankmodels.Account, error) {
	var account bankmodels.Account
	if err := c.do(ctx, http.MethodGet, "/me", token, nil, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *Client) Balance(ctx context.Context, token string) (decimal.Decimal, error) {
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/balance", token, nil, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Balance, nil
}

func (c *Client) Overview(ctx context.Context, token string) (*bankmodels.Overview, error) {
	var overview bankmodels.Overview
	if err := c.do(ctx, http.MethodGet, "/me/overview", token, nil, nil, &overview); err != nil {
		return nil, err
	}
	return &overview, nil
}

func (c *Client) Contacts(ctx context.Context, token string) ([]*bankmodels.Contact, error) {
	return c.contacts(ctx, token, "/contacts")
}

func (c *Client) RecentContacts(ctx context.Context, token string) ([]*bankmodels.Contact, error) {
	return c.contacts(ctx, token, "/contacts/recent")
}

func (c *Client) contacts(ctx context.Context, token, path string) ([]*bankmodels.Contact, error) {
	var resp struct {
		Contacts []*bankmodels.Contact `json:"contacts"`
	}
	if err := c.do(ctx, http.MethodGet, path, token, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

func (c *Client) History(ctx context.Context, token string) ([]*bankmodels.Transaction, error) {
	var resp struct {
		Transactions []*bankmodels.Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, "/transactions", token, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// TransferInput is one payment. IdempotencyKey should be reused when
// retrying the same payment.
type TransferInput struct {
	ContactID      string
	Amount         string
	Description    string
	IdempotencyKey string
}

func (c *Client) Transfer(ctx context.Context, token string, in TransferInput) (*bankmodels.TransferResult, error) {
	body := struct {
		ContactID   string `json:"contact_id"`
		Amount      string `json:"amount"`
		Description string `json:"description,omitempty"`
	}{in.ContactID, in.Amount, in.Description}
	headers := map[string]string{}
	if in.IdempotencyKey != "" {
		headers["Idempotency-Key"] = in.IdempotencyKey
	}
	var result bankmodels.TransferResult
	if err := c.do(ctx, http.MethodPost, "/transfers", token, headers, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, headers map[string]string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "decode "+path+" response")
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode request")
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// decodeError turns the API's error envelope back into a coded error.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope httputil.ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == "" {
		return dErrors.New(codeForStatus(resp.StatusCode), fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	msg := envelope.ErrorDescription
	if msg == "" {
		msg = envelope.Error
	}
	return dErrors.New(dErrors.Code(envelope.Error), msg)
}

func codeForStatus(status int) dErrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return dErrors.CodeUnauthorized
	case status == http.StatusNotFound:
		return dErrors.CodeNotFound
	case status == http.StatusConflict:
		return dErrors.CodeConflict
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway:
		return dErrors.CodeUnavailable
	case status == http.StatusGatewayTimeout:
		return dErrors.CodeTimeout
	case status < http.StatusInternalServerError:
		return dErrors.CodeBadRequest
	default:
		return dErrors.CodeInternal
	}
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "api unreachable")
}
