package domain

import (
	"strings"

	"github.com/shopspring/decimal"

	dErrors "paybook/pkg/domain-errors"
)

// ParseAmount parses a user-entered transfer amount. The value must be a
// finite decimal strictly greater than zero; anything else is a validation
// error carrying the message "invalid amount".
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, dErrors.New(dErrors.CodeValidation, "invalid amount")
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, dErrors.New(dErrors.CodeValidation, "invalid amount")
	}
	if !amount.IsPositive() {
		return decimal.Zero, dErrors.New(dErrors.CodeValidation, "invalid amount")
	}
	return amount, nil
}
