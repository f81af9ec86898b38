// Package outbox relays committed outbox rows to Kafka. Rows are written in
// the same transaction as the change they describe, so every committed
// transfer is eventually published at least once.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -source=outbox.go -destination=mocks/mocks.go -package=mocks

// Entry is one unpublished outbox row.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// Store claims and settles outbox rows. ClaimBatch must run inside a
// transaction: the claimed rows stay locked until it ends, so concurrent
// relays never publish the same row twice in one pass.
type Store interface {
	ClaimBatch(ctx context.Context, limit int) ([]Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Publisher writes one record to the broker.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers map[string]string) error
}

// TxRunner scopes a claim and its settlement to one transaction.
type TxRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}
