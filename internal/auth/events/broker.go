// Package events fans session state changes out to subscribers.
package events

import (
	"context"
	"log/slog"
	"sync"

	"paybook/internal/auth/models"
	id "paybook/pkg/domain"
)

const subscriberBuffer = 16

// MemoryBroker delivers events to subscribers in the same process. A slow
// subscriber whose buffer is full misses events rather than blocking
// publishers.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[id.UserID]map[chan models.SessionEvent]struct{}
	logger *slog.Logger
}

func NewMemoryBroker(logger *slog.Logger) *MemoryBroker {
	return &MemoryBroker{
		subs:   make(map[id.UserID]map[chan models.SessionEvent]struct{}),
		logger: logger,
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, event models.SessionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[event.UserID] {
		select {
		case ch <- event:
		default:
			if b.logger != nil {
				b.logger.WarnContext(ctx, "dropping session event for slow subscriber",
					"user_id", event.UserID.String(),
					"event", string(event.Type),
				)
			}
		}
	}
	return nil
}

// Subscribe registers a subscriber for userID. The returned cancel func
// unregisters it and closes the channel; ctx cancellation does the same.
func (b *MemoryBroker) Subscribe(ctx context.Context, userID id.UserID) (<-chan models.SessionEvent, func(), error) {
	ch := make(chan models.SessionEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan models.SessionEvent]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[userID], ch)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			close(ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// SubscriberCount reports active subscribers for userID.
func (b *MemoryBroker) SubscriberCount(userID id.UserID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}
