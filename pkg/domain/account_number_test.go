package domain

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "paybook/pkg/domain-errors"
)

func TestGenerateAccountNumber(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 1000 {
		n := GenerateAccountNumber(r)
		require.True(t, n.IsValid(), "generated %q", n)
		assert.NotEqual(t, byte('0'), n[2], "leading digit must not be zero: %q", n)
	}
}

func TestParseAccountNumber(t *testing.T) {
	valid := []string{"GB10234567", "GB99999999", "GB00000001"}
	for _, s := range valid {
		n, err := ParseAccountNumber(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, n.String())
	}

	invalid := []string{"", "GB1234567", "GB123456789", "gb10234567", "US10234567", "GB1023456a", " GB10234567"}
	for _, s := range invalid {
		_, err := ParseAccountNumber(s)
		require.Error(t, err, s)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	}
}
