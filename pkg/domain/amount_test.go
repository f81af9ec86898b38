package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "paybook/pkg/domain-errors"
)

func TestParseAmount(t *testing.T) {
	accepted := map[string]string{
		"100":      "100",
		" 250.50 ": "250.5",
		"0.01":     "0.01",
		"50000":    "50000",
	}
	for input, want := range accepted {
		t.Run("accepts "+input, func(t *testing.T) {
			amount, err := ParseAmount(input)
			require.NoError(t, err)
			assert.True(t, amount.Equal(decimal.RequireFromString(want)), "got %s", amount)
		})
	}

	rejected := []string{"", "0", "0.00", "-1", "abc", "NaN", "Infinity", "-Infinity", "1,000"}
	for _, input := range rejected {
		t.Run("rejects "+input, func(t *testing.T) {
			_, err := ParseAmount(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, dErrors.New(dErrors.CodeValidation, "invalid amount"))
		})
	}
}
