//go:build integration

package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"paybook/internal/auth/events"
	"paybook/internal/auth/models"
	"paybook/internal/platform/logger"
	id "paybook/pkg/domain"
	"paybook/pkg/testutil/containers"
)

type RedisBrokerSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	broker *events.RedisBroker
}

func TestRedisBrokerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBrokerSuite))
}

func (s *RedisBrokerSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.broker = events.NewRedisBroker(s.redis.Client, logger.Discard())
}

func (s *RedisBrokerSuite) TestPublishReachesSubscriber() {
	ctx := context.Background()
	user := id.NewUserID()
	ch, cancel, err := s.broker.Subscribe(ctx, user)
	s.Require().NoError(err)
	defer cancel()

	sent := models.SessionEvent{
		Type:      models.EventSignedOut,
		UserID:    user,
		SessionID: id.NewSessionID(),
		At:        time.Now().UTC().Truncate(time.Millisecond),
	}
	s.Require().NoError(s.broker.Publish(ctx, sent))

	select {
	case got := <-ch:
		s.Equal(sent.Type, got.Type)
		s.Equal(sent.SessionID, got.SessionID)
		s.True(sent.At.Equal(got.At))
	case <-time.After(5 * time.Second):
		s.Fail("timed out waiting for event")
	}
}

func (s *RedisBrokerSuite) TestCancelClosesStream() {
	ch, cancel, err := s.broker.Subscribe(context.Background(), id.NewUserID())
	s.Require().NoError(err)
	cancel()

	select {
	case _, open := <-ch:
		s.False(open)
	case <-time.After(5 * time.Second):
		s.Fail("stream not closed")
	}
}
