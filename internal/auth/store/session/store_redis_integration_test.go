//go:build integration

package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"paybook/internal/auth/models"
	"paybook/internal/auth/store/session"
	id "paybook/pkg/domain"
	"paybook/pkg/platform/sentinel"
	"paybook/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *session.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = session.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func makeSession() *models.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Session{
		ID:                 id.NewSessionID(),
		UserID:             id.NewUserID(),
		Email:              "user@example.com",
		Status:             models.SessionStatusActive,
		DeviceDisplayName:  "Test Device",
		LastAccessTokenJTI: uuid.NewString(),
		CreatedAt:          now,
		LastSeenAt:         now,
		ExpiresAt:          now.Add(time.Hour),
	}
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	sess := makeSession()
	s.Require().NoError(s.store.Create(ctx, sess))

	found, err := s.store.FindByID(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(sess.UserID, found.UserID)
	s.Equal(sess.LastAccessTokenJTI, found.LastAccessTokenJTI)
	s.True(sess.ExpiresAt.Equal(found.ExpiresAt))

	_, err = s.store.FindByID(ctx, id.NewSessionID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// Concurrent revocations race on WATCH; exactly one wins.
func (s *RedisStoreSuite) TestConcurrentRevoke() {
	ctx := context.Background()
	sess := makeSession()
	s.Require().NoError(s.store.Create(ctx, sess))

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount, rejectedCount, otherErrors atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.RevokeSessionIfActive(ctx, sess.ID, time.Now())
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, redis.TxFailedErr), errors.Is(err, session.ErrSessionRevoked):
				rejectedCount.Add(1)
			default:
				otherErrors.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one revoke should succeed")
	s.Equal(int32(goroutines-1), rejectedCount.Load())
	s.Equal(int32(0), otherErrors.Load())
}

func (s *RedisStoreSuite) TestTTLFollowsExpiry() {
	ctx := context.Background()
	sess := makeSession()
	s.Require().NoError(s.store.Create(ctx, sess))

	key := "session:" + uuid.UUID(sess.ID).String()
	ttl, err := s.redis.Client.TTL(ctx, key).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 55*time.Minute)
	s.LessOrEqual(ttl, time.Hour)

	_, err = s.store.Execute(ctx, sess.ID, nil, func(m *models.Session) {
		m.LastSeenAt = time.Now()
	})
	s.Require().NoError(err)

	ttl, err = s.redis.Client.TTL(ctx, key).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 55*time.Minute)
}
