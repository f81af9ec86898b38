// Package session holds the single signed-in session of a client process
// and keeps the account profile in step with it.
package session

import (
	"context"
	"time"

	authmodels "paybook/internal/auth/models"
	bankmodels "paybook/internal/banking/models"
	id "paybook/pkg/domain"
)

// User is the identity behind the session.
type User struct {
	ID    id.UserID `json:"id"`
	Email string    `json:"email"`
}

// Credentials are returned by sign-in and sign-up.
type Credentials struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

type SignUpInput struct {
	Email    string
	Password string
	FullName string
	Phone    *string
}

// Backend is the remote identity and profile provider. Methods that take a
// token fail with a CodeUnauthorized error when the token is not accepted.
type Backend interface {
	SignIn(ctx context.Context, email, password string) (*Credentials, error)
	SignUp(ctx context.Context, in SignUpInput) (*Credentials, error)
	SignOut(ctx context.Context, token string) error
	// Refresh exchanges token for a new one. It accepts an expired token
	// while the session behind it is active.
	Refresh(ctx context.Context, token string) (*Credentials, error)
	CurrentUser(ctx context.Context, token string) (*User, error)
	Profile(ctx context.Context, token string) (*bankmodels.Account, error)
	Events(ctx context.Context, token string) (<-chan authmodels.SessionEvent, func(), error)
}

// Token is the persisted access token. ExpiresAt is zero when unknown.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

func (c *Credentials) Token() Token {
	return Token{AccessToken: c.AccessToken, ExpiresAt: c.ExpiresAt}
}

// TokenStore persists the access token between process runs.
type TokenStore interface {
	Load(ctx context.Context) (Token, error)
	Save(ctx context.Context, token Token) error
	Clear(ctx context.Context) error
}
