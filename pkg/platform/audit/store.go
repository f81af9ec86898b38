// Package audit defines banking audit events and the store they are
// appended to. Compliance events go through the transactional outbox.
package audit

import "context"

// Store appends audit events. Implementations that write to the outbox join
// the transaction carried by ctx.
type Store interface {
	Append(ctx context.Context, event Event) error
}
