package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"paybook/internal/auth/models"
	id "paybook/pkg/domain"
	"paybook/pkg/platform/sentinel"
)

const sessionKeyPrefix = "session:"

// Revoked sessions stay readable for this long so late requests get
// ErrSessionRevoked instead of ErrNotFound.
const revokedRetention = time.Hour

// RedisStore stores sessions as JSON values keyed by session ID. The key TTL
// follows the session expiry. Mutations use WATCH for optimistic locking.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(sessionID id.SessionID) string {
	return sessionKeyPrefix + uuid.UUID(sessionID).String()
}

func ttlFor(session *models.Session, now time.Time) time.Duration {
	if session.Status == models.SessionStatusRevoked {
		return revokedRetention
	}
	ttl := session.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}

func (s *RedisStore) Create(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, sessionKey(session.ID), payload, ttlFor(session, time.Now())).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session already exists: %w", sentinel.ErrConflict)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	return read(ctx, s.client, sessionID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func read(ctx context.Context, g getter, sessionID id.SessionID) (*models.Session, error) {
	raw, err := g.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// Execute runs validate and mutate under WATCH. A concurrent write to the
// same key aborts with redis.TxFailedErr.
func (s *RedisStore) Execute(ctx context.Context, sessionID id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	key := sessionKey(sessionID)
	var result *models.Session
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		session, err := read(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if validate != nil {
			if err := validate(session); err != nil {
				return err
			}
		}
		mutate(session)
		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttlFor(session, time.Now()))
			return nil
		})
		if err != nil {
			return err
		}
		result = session
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStore) RevokeSessionIfActive(ctx context.Context, sessionID id.SessionID, now time.Time) (*models.Session, error) {
	return s.Execute(ctx, sessionID, func(session *models.Session) error {
		if session.Status == models.SessionStatusRevoked {
			return ErrSessionRevoked
		}
		return nil
	}, func(session *models.Session) {
		session.Revoke(now)
	})
}
