package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/clock/fake"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
)

func TestBreakerLifecycle(t *testing.T) {
	t.Parallel()
	metrics.Init()

	clock := fake.New(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	b := New(3, time.Minute, clock)
	host := "down.example.com"

	require.True(t, b.Allow(host))
	require.False(t, b.Failure(host))
	require.False(t, b.Failure(host))
	require.True(t, b.Failure(host), "third failure trips the circuit")
	require.Equal(t, Open, b.State(host))
	require.False(t, b.Allow(host))

	clock.Advance(time.Minute)
	require.True(t, b.Allow(host), "one trial after recovery")
	require.Equal(t, HalfOpen, b.State(host))
	require.False(t, b.Allow(host), "only one trial at a time")

	require.True(t, b.Failure(host), "failed trial reopens")
	require.False(t, b.Allow(host))

	clock.Advance(time.Minute)
	require.True(t, b.Allow(host))
	b.Success(host)
	require.Equal(t, Closed, b.State(host))
	require.True(t, b.Allow(host))
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	t.Parallel()

	b := New(2, time.Second, nil)
	b.Failure("flaky.example.com")
	b.Success("flaky.example.com")
	require.False(t, b.Failure("flaky.example.com"))
	require.Equal(t, Closed, b.State("FLAKY.example.com"))
}

func TestBreakerHostsAreIndependent(t *testing.T) {
	t.Parallel()

	b := New(1, time.Hour, nil)
	require.True(t, b.Failure("a.example.com"))
	require.False(t, b.Allow("a.example.com"))
	require.True(t, b.Allow("b.example.com"))
	require.True(t, b.Allow(""))
}

func TestBreakerDefaults(t *testing.T) {
	t.Parallel()

	b := New(0, 0, nil)
	require.Equal(t, defaultRecovery, b.Recovery())
	require.Equal(t, defaultThreshold, b.threshold)
}
