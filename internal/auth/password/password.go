// Package password hashes and verifies account passwords with bcrypt.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "paybook/pkg/domain-errors"
)

// MinLength is the shortest password accepted at sign-up.
const MinLength = 6

type Hasher struct {
	cost int
}

// NewHasher returns a hasher using cost, or bcrypt.DefaultCost when cost is
// out of range.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Validate enforces the password policy.
func Validate(password string) error {
	if len(password) < MinLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("password must be at least %d characters", MinLength))
	}
	return nil
}

func (h *Hasher) Hash(password string) ([]byte, error) {
	if err := Validate(password); err != nil {
		return nil, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, dErrors.New(dErrors.CodeValidation, "password is too long")
		}
		return nil, fmt.Errorf("could not hash password: %w", err)
	}
	return hashed, nil
}

// Verify returns a CodeUnauthorized error when password does not match hash.
func (h *Hasher) Verify(password string, hash []byte) error {
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")
		}
		return fmt.Errorf("could not verify password: %w", err)
	}
	return nil
}
