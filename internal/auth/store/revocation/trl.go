// Package revocation holds token revocation lists keyed by access-token jti.
package revocation

import (
	"fmt"
	"time"

	"paybook/pkg/platform/sentinel"
)

// Clock returns the current time. Tests inject fixed clocks.
type Clock func() time.Time

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}
