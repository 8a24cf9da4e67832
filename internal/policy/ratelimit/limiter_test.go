package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/metrics"
)

func TestLimiterWait(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	_, err := l.Wait(ctx)
	require.NoError(t, err)

	// 10 RPS = one token every 100ms.
	waited, err := l.Wait(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, waited, 80*time.Millisecond)
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.True(t, l.Unlimited())
	for range 100 {
		waited, err := l.Wait(context.Background())
		require.NoError(t, err)
		require.Less(t, waited, 10*time.Millisecond)
	}

	var nilLimiter *Limiter
	_, err := nilLimiter.Wait(context.Background())
	require.NoError(t, err)
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	_, err := l.Wait(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Wait(ctx)
	require.Error(t, err)
}
