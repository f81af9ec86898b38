package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"paybook/internal/auth/models"
	id "paybook/pkg/domain"
)

const channelPrefix = "session-events:"

func channelFor(userID id.UserID) string {
	return channelPrefix + userID.String()
}

// RedisBroker publishes session events over Redis pub/sub so every server
// instance sees every user's session changes.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, event models.SessionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(event.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish session event: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, userID id.UserID) (<-chan models.SessionEvent, func(), error) {
	pubsub := b.client.Subscribe(ctx, channelFor(userID))
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe session events: %w", err)
	}

	out := make(chan models.SessionEvent, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event models.SessionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.WarnContext(ctx, "discarding malformed session event",
						"user_id", userID.String(),
						"error", err,
					)
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				case <-ctx.Done():
					cancel()
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
