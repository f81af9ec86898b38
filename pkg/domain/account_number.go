package domain

import (
	"fmt"
	"math/rand/v2"
	"regexp"

	dErrors "paybook/pkg/domain-errors"
)

// AccountNumber is the customer-facing account identifier: "GB" followed by
// exactly eight digits. The leading digit is never zero for generated numbers.
type AccountNumber string

var accountNumberPattern = regexp.MustCompile(`^GB[0-9]{8}$`)

const (
	accountNumberMin  = 10000000
	accountNumberSpan = 90000000
)

// ParseAccountNumber validates external input.
func ParseAccountNumber(s string) (AccountNumber, error) {
	if !accountNumberPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid account number")
	}
	return AccountNumber(s), nil
}

// GenerateAccountNumber draws a uniform number in [10000000, 99999999].
// Uniqueness is enforced by the store, callers retry on conflict.
func GenerateAccountNumber(r *rand.Rand) AccountNumber {
	var n int
	if r == nil {
		n = rand.IntN(accountNumberSpan)
	} else {
		n = r.IntN(accountNumberSpan)
	}
	return AccountNumber(fmt.Sprintf("GB%d", accountNumberMin+n))
}

func (n AccountNumber) String() string { return string(n) }

func (n AccountNumber) IsValid() bool { return accountNumberPattern.MatchString(string(n)) }
