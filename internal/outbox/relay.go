package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	dErrors "paybook/pkg/domain-errors"
	"paybook/pkg/platform/circuit"
)

// ErrPaused is returned by DrainOnce while the breaker holds publishing off.
var ErrPaused = dErrors.New(dErrors.CodeUnavailable, "outbox relay paused")

const (
	defaultInterval  = time.Second
	defaultBatchSize = 100
)

type pendingCounter interface {
	Pending(ctx context.Context) (int64, error)
}

// Relay polls the outbox and publishes claimed rows in creation order. A
// failed publish stops the pass so later rows for the same aggregate never
// overtake an earlier one.
type Relay struct {
	store     Store
	tx        TxRunner
	publisher Publisher
	breaker   *circuit.Breaker
	metrics   *Metrics
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		if b != nil {
			r.breaker = b
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRelay(store Store, tx TxRunner, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		tx:        tx,
		publisher: publisher,
		logger:    slog.Default(),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = circuit.New("outbox-relay")
	}
	return r
}

// Run drains the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "outbox relay started", "interval", r.interval, "batch_size", r.batchSize)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "outbox relay stopped")
			return nil
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.DrainOnce(ctx)
		if err != nil {
			if !errors.Is(err, ErrPaused) && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "outbox drain failed", "error", err, "published", n)
			}
			break
		}
		if n < r.batchSize {
			break
		}
	}
	r.reportPending(ctx)
}

// DrainOnce publishes at most one batch and returns how many rows were
// settled. Rows published before a failure are still marked.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	if !r.breaker.Allow() {
		return 0, ErrPaused
	}

	var published int
	var publishErr error
	err := r.tx.Run(ctx, func(ctx context.Context) error {
		entries, err := r.store.ClaimBatch(ctx, r.batchSize)
		if err != nil {
			return err
		}
		r.metrics.observeBatch(len(entries))

		done := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			if err := r.publisher.Publish(ctx, []byte(e.AggregateID), e.Payload, headersFor(e)); err != nil {
				r.metrics.incFailed()
				r.recordFailure(ctx, err)
				publishErr = err
				break
			}
			r.metrics.incPublished()
			r.recordSuccess(ctx)
			done = append(done, e.ID)
		}
		if err := r.store.MarkPublished(ctx, done, r.now()); err != nil {
			return err
		}
		published = len(done)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, publishErr
}

func (r *Relay) recordFailure(ctx context.Context, err error) {
	if _, change := r.breaker.RecordFailure(); change.Opened {
		r.metrics.setBreakerOpen(true)
		r.logger.WarnContext(ctx, "outbox relay breaker opened", "error", err)
	}
}

func (r *Relay) recordSuccess(ctx context.Context) {
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.metrics.setBreakerOpen(false)
		r.logger.InfoContext(ctx, "outbox relay breaker closed")
	}
}

func (r *Relay) reportPending(ctx context.Context) {
	pc, ok := r.store.(pendingCounter)
	if !ok || r.metrics == nil {
		return
	}
	n, err := pc.Pending(ctx)
	if err != nil {
		return
	}
	r.metrics.setPending(n)
}

func headersFor(e Entry) map[string]string {
	return map[string]string{
		"outbox_id":      e.ID.String(),
		"event_type":     e.EventType,
		"aggregate_type": e.AggregateType,
	}
}
