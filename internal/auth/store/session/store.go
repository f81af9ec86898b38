package session

import (
	"fmt"

	"paybook/pkg/platform/sentinel"
)

// ErrSessionRevoked is returned when revoking or mutating a session that was
// already revoked.
var ErrSessionRevoked = fmt.Errorf("session revoked: %w", sentinel.ErrInvalidState)
