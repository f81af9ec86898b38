// Package security provides a non-blocking audit publisher for
// authentication and revocation events.
//
// Emit enqueues into a bounded ring buffer and returns immediately. A
// background loop drains the buffer into the store. When the buffer is full
// the oldest events are dropped.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "paybook/pkg/platform/audit"
	"paybook/pkg/requestcontext"
)

const (
	defaultFlushInterval = 200 * time.Millisecond
	defaultBatchSize     = 100
)

type Publisher struct {
	store         audit.Store
	buffer        *RingBuffer
	logger        *slog.Logger
	flushInterval time.Duration

	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) { p.buffer = NewRingBuffer(n) }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:         store,
		flushInterval: defaultFlushInterval,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer == nil {
		p.buffer = NewRingBuffer(0)
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Emit stamps and enqueues the event. It never blocks on the store.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	event.Category = audit.AuditEvent(event.Action).Category()
	p.buffer.Enqueue(event)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			p.flush()
			return
		case <-ticker.C:
			p.flush()
		case <-p.wake:
			p.flush()
		}
	}
}

func (p *Publisher) flush() {
	for {
		batch := p.buffer.DequeueBatch(defaultBatchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			// Detached from any request; the originating context may be gone.
			if err := p.store.Append(context.Background(), event); err != nil && p.logger != nil {
				p.logger.Warn("security audit append failed",
					"action", event.Action,
					"user_id", event.UserID.String(),
					"error", err,
				)
			}
		}
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.buffer.Dropped()
}

// Close stops the loop after draining buffered events.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	return nil
}
