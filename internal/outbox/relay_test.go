package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"paybook/internal/outbox"
	"paybook/internal/outbox/mocks"
	"paybook/internal/platform/logger"
	"paybook/pkg/platform/circuit"
)

type RelaySuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *mocks.MockStore
	publisher *mocks.MockPublisher
	tx        *mocks.MockTxRunner
	metrics   *outbox.Metrics
	now       time.Time
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.tx = mocks.NewMockTxRunner(s.ctrl)
	s.tx.EXPECT().Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }).
		AnyTimes()
	s.metrics = outbox.NewMetrics(prometheus.NewRegistry())
	s.now = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
}

func (s *RelaySuite) relay(opts ...outbox.Option) *outbox.Relay {
	opts = append([]outbox.Option{
		outbox.WithLogger(logger.Discard()),
		outbox.WithMetrics(s.metrics),
		outbox.WithBatchSize(10),
		outbox.WithClock(func() time.Time { return s.now }),
	}, opts...)
	return outbox.NewRelay(s.store, s.tx, s.publisher, opts...)
}

func entries(n int) []outbox.Entry {
	out := make([]outbox.Entry, n)
	for i := range out {
		out[i] = outbox.Entry{
			ID:            uuid.New(),
			AggregateType: "account",
			AggregateID:   "acct-1",
			EventType:     "transfer_completed",
			Payload:       []byte(`{"action":"transfer_completed"}`),
		}
	}
	return out
}

func (s *RelaySuite) TestPublishesInOrderAndMarks() {
	batch := entries(3)
	s.store.EXPECT().ClaimBatch(gomock.Any(), 10).Return(batch, nil)
	var calls []*gomock.Call
	for _, e := range batch {
		calls = append(calls, s.publisher.EXPECT().
			Publish(gomock.Any(), []byte("acct-1"), e.Payload, map[string]string{
				"outbox_id":      e.ID.String(),
				"event_type":     "transfer_completed",
				"aggregate_type": "account",
			}).Return(nil))
	}
	gomock.InOrder(calls...)
	s.store.EXPECT().MarkPublished(gomock.Any(), []uuid.UUID{batch[0].ID, batch[1].ID, batch[2].ID}, s.now).Return(nil)

	n, err := s.relay().DrainOnce(context.Background())

	s.Require().NoError(err)
	s.Equal(3, n)
	s.Equal(3.0, promtest.ToFloat64(s.metrics.Published))
}

func (s *RelaySuite) TestFailureStopsThePass() {
	batch := entries(3)
	boom := errors.New("broker down")
	s.store.EXPECT().ClaimBatch(gomock.Any(), 10).Return(batch, nil)
	gomock.InOrder(
		s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),
		s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(boom),
	)
	s.store.EXPECT().MarkPublished(gomock.Any(), []uuid.UUID{batch[0].ID}, s.now).Return(nil)

	n, err := s.relay().DrainOnce(context.Background())

	s.ErrorIs(err, boom)
	s.Equal(1, n)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.PublishFailed))
}

func (s *RelaySuite) TestBreakerPausesPublishing() {
	breaker := circuit.New("test", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
	relay := s.relay(outbox.WithBreaker(breaker))

	s.store.EXPECT().ClaimBatch(gomock.Any(), 10).Return(entries(1), nil).Times(1)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
	s.store.EXPECT().MarkPublished(gomock.Any(), []uuid.UUID{}, s.now).Return(nil)

	_, err := relay.DrainOnce(context.Background())
	s.Require().Error(err)
	s.True(breaker.IsOpen())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.BreakerOpen))

	n, err := relay.DrainOnce(context.Background())
	s.ErrorIs(err, outbox.ErrPaused)
	s.Zero(n)
}

func (s *RelaySuite) TestClaimErrorPublishesNothing() {
	boom := errors.New("db gone")
	s.store.EXPECT().ClaimBatch(gomock.Any(), 10).Return(nil, boom)

	n, err := s.relay().DrainOnce(context.Background())

	s.ErrorIs(err, boom)
	s.Zero(n)
}

func (s *RelaySuite) TestRunStopsWithContext() {
	s.store.EXPECT().ClaimBatch(gomock.Any(), 10).Return(nil, nil).AnyTimes()
	s.store.EXPECT().MarkPublished(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.NoError(s.relay(outbox.WithInterval(5 * time.Millisecond)).Run(ctx))
}
