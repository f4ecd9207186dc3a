package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/orders/internal/cache"
)

func TestCheckAndMarkFirstCallerWins(t *testing.T) {
	guard := NewRedisGuard(cache.NewMemoryCache(), time.Hour)
	ctx := context.Background()

	first, err := guard.CheckAndMark(ctx, "task:msg-1:1")
	require.NoError(t, err)
	require.True(t, first)

	second, err := guard.CheckAndMark(ctx, "task:msg-1:1")
	require.NoError(t, err)
	require.False(t, second)

	// A different key is independent
	other, err := guard.CheckAndMark(ctx, "task:msg-1:2")
	require.NoError(t, err)
	require.True(t, other)
}

func TestResetAllowsReprocessing(t *testing.T) {
	guard := NewRedisGuard(cache.NewMemoryCache(), time.Hour)
	ctx := context.Background()

	_, err := guard.CheckAndMark(ctx, "event:e1")
	require.NoError(t, err)
	require.NoError(t, guard.Reset(ctx, "event:e1"))

	again, err := guard.CheckAndMark(ctx, "event:e1")
	require.NoError(t, err)
	require.True(t, again)
}
