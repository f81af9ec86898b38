package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	id "paybook/pkg/domain"
)

func TestDefaultsOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.True(t, UserID(ctx).IsNil())
	assert.True(t, SessionID(ctx).IsNil())
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, TokenJTI(ctx))
	assert.WithinDuration(t, time.Now(), Now(ctx), time.Second)
}

func TestInjectedValues(t *testing.T) {
	userID := id.NewUserID()
	sessionID := id.NewSessionID()
	fixed := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

	ctx := WithUserID(context.Background(), userID)
	ctx = WithSessionID(ctx, sessionID)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTokenJTI(ctx, "jti-1")
	ctx = WithClientIP(ctx, "10.0.0.1")
	ctx = WithUserAgent(ctx, "bankctl/1.0")
	ctx = WithTime(ctx, fixed)

	assert.Equal(t, userID, UserID(ctx))
	assert.Equal(t, sessionID, SessionID(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "jti-1", TokenJTI(ctx))
	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
	assert.Equal(t, "bankctl/1.0", UserAgent(ctx))
	assert.Equal(t, fixed, Now(ctx))
}
