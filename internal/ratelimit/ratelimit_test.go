package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_Burst_Then_Refill(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	limiter := NewMemoryLimiter(3, 3*time.Second)
	limiter.now = func() time.Time { return now }

	// Given a full bucket of three tokens
	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "alice")
		req.NoError(err)
		req.True(ok, "event %d", i)
	}

	// When a fourth event arrives in the same instant
	ok, _ := limiter.Allow(ctx, "alice")

	// Then it is rejected
	req.False(ok)

	// And one second later a single token is back
	now = now.Add(time.Second)
	ok, _ = limiter.Allow(ctx, "alice")
	req.True(ok)
	ok, _ = limiter.Allow(ctx, "alice")
	req.False(ok)
}

func TestMemoryLimiter_Keys_Are_Independent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	limiter := NewMemoryLimiter(1, time.Hour)

	ok, _ := limiter.Allow(ctx, "alice")
	req.True(ok)
	ok, _ = limiter.Allow(ctx, "alice")
	req.False(ok)

	ok, _ = limiter.Allow(ctx, "bob")
	req.True(ok)

	limiter.Forget("alice")
	ok, _ = limiter.Allow(ctx, "alice")
	req.True(ok)
}
