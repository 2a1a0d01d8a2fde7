package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindowLimiter_LocalWindow(t *testing.T) {
	l := NewSlidingWindowLimiter(nil, 2, time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }

	ctx := context.Background()
	ok, _ := l.Allow(ctx, "user-1")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "user-1")
	assert.True(t, ok)

	now = base.Add(10 * time.Second)
	ok, wait := l.Allow(ctx, "user-1")
	assert.False(t, ok)
	assert.Equal(t, 50*time.Second, wait)

	ok, _ = l.Allow(ctx, "user-2")
	assert.True(t, ok, "keys are independent")

	now = base.Add(61 * time.Second)
	ok, _ = l.Allow(ctx, "user-1")
	assert.True(t, ok)
}
