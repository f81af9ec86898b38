package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors.
//
//   - ErrNotFound: row does not exist
//   - ErrConflict: unique constraint hit (account number, idempotency key, email)
//   - ErrPreconditionFailed: a conditional write matched no row (e.g. balance
//     would go negative)
//   - ErrInvalidState: entity in the wrong state for the operation
//   - ErrUnavailable: backing service temporarily unreachable
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidState       = errors.New("invalid state")
	ErrUnavailable        = errors.New("unavailable")
)
