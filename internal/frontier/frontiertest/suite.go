// Package frontiertest holds the behavioral suite every frontier.Store
// backend must pass.
package frontiertest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/clock/fake"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
)

// Start is the time the suite's fake clock begins at.
var Start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Factory opens an empty store using opts and clock.
type Factory func(t *testing.T, opts frontier.Options, clock *fake.Clock) frontier.Store

// Run executes the suite against the backend built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(*testing.T, Factory)
	}{
		{"EnqueueIsIdempotent", testEnqueueIdempotent},
		{"DepthNeverIncreases", testDepthNeverIncreases},
		{"BeyondMaxDepthIsNotClaimed", testBeyondMaxDepth},
		{"ClaimOrder", testClaimOrder},
		{"ClaimMutualExclusion", testClaimMutualExclusion},
		{"RetryWaitsForEligibility", testRetryEligibility},
		{"CompleteIsIdempotent", testCompleteIdempotent},
		{"ReclaimStale", testReclaimStale},
		{"Release", testRelease},
		{"ClaimKey", testClaimKey},
		{"ReviveAbandoned", testReviveAbandoned},
		{"RedirectsAndLinks", testRedirectsAndLinks},
		{"StatsAndReset", testStatsAndReset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, factory)
		})
	}
}

func open(t *testing.T, factory Factory, opts frontier.Options) (frontier.Store, *fake.Clock) {
	t.Helper()
	clock := fake.New(Start)
	store := factory(t, opts, clock)
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

// Request builds an admitted seed request for key.
func Request(key string, depth int, score float64) frontier.EnqueueRequest {
	return frontier.EnqueueRequest{
		Key:      key,
		URL:      "https://example.com/" + key,
		Host:     "example.com",
		Class:    "internal",
		Source:   frontier.SourceSeed,
		Depth:    depth,
		Score:    score,
		Admitted: true,
	}
}

func testEnqueueIdempotent(t *testing.T, factory Factory) {
	ctx := context.Background()
	store, _ := open(t, factory, frontier.DefaultOptions())

	first, err := store.Enqueue(ctx, Request("a", 1, 0.3))
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, frontier.StateQueued, first.Entry.State)

	second, err := store.Enqueue(ctx, Request("a", 1, 0.7))
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.Entry.ID, second.Entry.ID)

	entry, ok, err := store.Lookup(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 0.7, entry.Score, 1e-9)

	_, err = store.Enqueue(ctx, Request("a", 1, 0.1))
	require.NoError(t, err)
	entry, _, err = store.Lookup(ctx, "a")
	require.NoError(t, err)
	require.InDelta(t, 0.7, entry.Score, 1e-9, "score never decreases")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total())
}

func testDepthNeverIncreases(t *testing.T, factory Factory) {
	ctx := context.Background()
	store, _ := open(t, factory, frontier.DefaultOptions())

	_, err := store.Enqueue(ctx, Request("a", 2, 0.5))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, Request("a", 3, 0.5))
	require.NoError(t, err)
	entry, _, err := store.Lookup(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 2, entry.Depth)

	_, err = store.Enqueue(ctx, Request("a", 1, 0.5))
	require.NoError(t, err)
	entry, _, err = store.Lookup(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 1, entry.Depth)
}

func testBeyondMaxDepth(t *testing.T, factory Factory) {
	ctx := context.Background()
	opts := frontier.DefaultOptions()
	opts.MaxDepth = 1
	store, _ := open(t, factory, opts)

	res, err := store.Enqueue(ctx, Request("deep", 2, 1))
	require.NoError(t, err)
	require.Equal(t, frontier.StateDiscovered, res.Entry.State)

	offsite := Request("offsite", 0, 1)
	offsite.Admitted = false
	_, err = store.Enqueue(ctx, offsite)
	require.NoError(t, err)

	claimed, err := store.ClaimBatch(ctx, 10, "w1")
	require.NoError(t, err)
	require.Empty(t, claimed)

	done, err := store.IsExhausted(ctx)
	require.NoError(t, err)
	require.True(t, done, "discovered-only frontier is exhausted")

	res, err = store.Enqueue(ctx, Request("deep", 1, 1))
	require.NoError(t, err)
	require.Equal(t, frontier.StateQueued, res.Entry.State, "shallower rediscovery promotes the entry")
}

func testClaimOrder(t *testing.T, factory Factory) {
	ctx := context.Background()
	store, _ := open(t, factory, frontier.DefaultOptions())

	for _, r := range []frontier.EnqueueRequest{
		Request("low", 0, 0.1),
		Request("mid-deep", 2, 0.5),
		Request("high", 3, 0.9),
		Request("mid-shallow-1", 1, 0.5),
		Request("mid-shallow-2", 1, 0.5),
	} {
		_, err := store.Enqueue(ctx, r)
		require.NoError(t, err)
	}

	claimed, err := store.ClaimBatch(ctx, 4, "w1")
	require.NoError(t, err)
	keys := make([]string, len(claimed))
	for i, e := range claimed {
		keys[i] = e.Key
		require.Equal(t, frontier.StateClaimed, e.State)
		require.Equal(t, "w1", e.ClaimedBy)
	}
	require.Equal(t, []string{"high", "mid-shallow-1", "mid-shallow-2", "mid-deep"}, keys)

	rest, err := store.ClaimBatch(ctx, 4, "w2")
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "low", rest[0].Key)
}

func testClaimMutualExclusion(t *testing.T, factory Factory) {
	ctx := context.Background()
	store, _ := open(t, factory, frontier.DefaultOptions())

	const total = 60
	for i := 0; i < total; i++ {
		_, err := store.Enqueue(ctx, Request(fmt.Sprintf("k%03d", i), i%3, float64(i%7)))
		require.NoError(t, err)
	}

	var (
		mu    sync.Mutex
		seen  = make(map[string]string)
		dupes []string
		wg    sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		worker := fmt.Sprintf("w%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := store.ClaimBatch(ctx, 3, worker)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, e := range batch {
					if prev, ok := seen[e.Key]; ok {
						dupes = append(dupes, e.Key+" by "+prev+" and "+worker)
					}
					seen[e.Key] = worker
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Empty(t, dupes)
	require.Len(t, seen, total)
}

func testRetryEligibility(t *testing.T, factory Factory) {
	ctx := context.Background()
	store, clock := open(t, factory, frontier.DefaultOptions())

	_, err := store.Enqueue(ctx, Request("a", 0, 1))
	require.NoError(t, err)
	claimed, err := store.ClaimBatch(ctx, 1, "w1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	err = store.Complete(ctx, claimed[0].Claim(), frontier.Failed{Kind: "timeout", Retry: true, Delay: 10 * time.Second})
	require.NoError(t, err)

	none, err := store.ClaimBatch(ctx, 1, "w1")
	require.NoError(t, err)
	require.Empty(t, none)

	done, err := store.IsExhausted(ctx)
	require.NoError(t, err)
	require.False(t, done, "waiting retries keep the frontier open")

	clock.Advance(10 * time.Second)
	again, err := store.ClaimBatch(ctx, 1, "w1")
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, 1, again[0].Attempts)

	err = store.Complete(ctx, again[0].Claim(), frontier.Failed{Kind: "timeout"})
	require.NoError(t, err)
	entry, _, err := store.Lookup(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, frontier.StateAbandoned, entry.State)
	require.Equal(t, 2, entry.Attempts)
}

func testCompleteIdempotent(t *testing.T, factory Factory) {
	ctx := context.Background()
	store, _ := open(t, factory, frontier.DefaultOptions())

	_, err := store.Enqueue(ctx, Request("a", 0, 1))
	require.NoError(t, err)
	claimed, err := store.ClaimBatch(ctx, 1, "w1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	outcome := frontier.Fetched{Status: 200, ContentHash: "abc"}
	require.NoError(t, store.Complete(ctx, claimed[0].Claim(), outcome))
	require.NoError(t, store.Complete(ctx, claimed[0].Claim(), outcome))

	err = store.Complete(ctx, claimed[0].Claim(), frontier.Redirected{TargetKey: "b"})
	require.ErrorIs(t, err, frontier.ErrInvalidTransition)

	err = store.Complete(ctx, frontier.Claim{EntryID: claimed[0].ID + 1000, Worker: "w1"}, outcome)
	require.ErrorIs(t, err, frontier.ErrNotFound)

	entry, _, err := store.Lookup(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, frontier.StateFetched, entry.State)
	require.Equal(t, 200, entry.LastStatus)
	require.Equal(t, "abc", entry.ContentHash)
}

func testReclaimStale(t *testing.T, factory Factory) {
	ctx := context.Background()
	store, clock := open(t, factory, frontier.DefaultOptions())

	_, err := store.Enqueue(ctx, Request("a", 0, 1))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, Request("b", 0, 0.5))
	require.NoError(t, err)

	first, err := store.ClaimBatch(ctx, 1, "crashed")
	require.NoError(t, err)
	require.Len(t, first, 1)

	clock.Advance(2 * time.Minute)
	second, err := store.ClaimBatch(ctx, 1, "alive")
	require.NoError(t, err)
	require.Len(t, second, 1)

	clock.Advance(4 * time.Minute)
	n, err := store.ReclaimStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the claim older than max age is reclaimed")

	again, err := store.ClaimBatch(ctx, 5, "recovery")
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, first[0].Key, again[0].Key)

	err = store.Complete(ctx, first[0].Claim(), frontier.Fetched{Status: 200})
	require.ErrorIs(t, err, frontier.ErrInvalidTransition, "the stale claimant lost the entry")
}

func testRelease(t *testing.T, factory Factory) {
	ctx := context.Background()
	store, clock := open(t, factory, frontier.DefaultOptions())

	_, err := store.Enqueue(ctx, Request("a", 0, 1))
	require.NoError(t, err)
	claimed, err := store.ClaimBatch(ctx, 1, "w1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.Release(ctx, []frontier.Claim{claimed[0].Claim()}, clock.Now().Add(time.Minute)))

	entry, _, err := store.Lookup(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, frontier.StateQueued, entry.State)
	require.Zero(t, entry.Attempts)

	none, err := store.ClaimBatch(ctx, 1, "w1")
	require.NoError(t, err)
	require.Empty(t, none)

	clock.Advance(time.Minute)
	again, err := store.ClaimBatch(ctx, 1, "w2")
	require.NoError(t, err)
	require.Len(t, again, 1)
}

func testClaimKey(t *testing.T, factory Factory) {
	ctx := context.Background()
	store, _ := open(t, factory, frontier.DefaultOptions())

	_, err := store.Enqueue(ctx, Request("a", 0, 1))
	require.NoError(t, err)

	entry, ok, err := store.ClaimKey(ctx, "a", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, frontier.StateClaimed, entry.State)

	_, ok, err = store.ClaimKey(ctx, "a", "w2")
	require.NoError(t, err)
	require.False(t, ok, "already claimed")

	_, ok, err = store.ClaimKey(ctx, "missing", "w2")
	require.NoError(t, err)
	require.False(t, ok)
}

func testReviveAbandoned(t *testing.T, factory Factory) {
	ctx := context.Background()
	opts := frontier.DefaultOptions()
	opts.ReviveAbandoned = true
	store, _ := open(t, factory, opts)

	_, err := store.Enqueue(ctx, Request("a", 0, 1))
	require.NoError(t, err)
	claimed, err := store.ClaimBatch(ctx, 1, "w1")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, claimed[0].Claim(), frontier.Failed{Kind: "dns_not_found"}))

	res, err := store.Enqueue(ctx, Request("a", 0, 1))
	require.NoError(t, err)
	require.Equal(t, frontier.StateQueued, res.Entry.State)
	require.Zero(t, res.Entry.Attempts)
}

func testRedirectsAndLinks(t *testing.T, factory Factory) {
	ctx := context.Background()
	store, clock := open(t, factory, frontier.DefaultOptions())

	hop := frontier.RedirectHop{
		SourceKey:   "src",
		Seq:         1,
		FromURL:     "https://example.com/old",
		ToURL:       "https://example.com/new",
		ToKey:       "dst",
		Status:      301,
		ChainLength: 1,
		Result:      "merged",
		CreatedAt:   clock.Now(),
	}
	require.NoError(t, store.RecordRedirect(ctx, hop))
	require.NoError(t, store.RecordRedirect(ctx, hop), "recording a hop twice is harmless")

	hops, err := store.Redirects(ctx, "src")
	require.NoError(t, err)
	require.Len(t, hops, 1)
	require.Equal(t, "dst", hops[0].ToKey)
	require.Equal(t, 1, hops[0].ChainLength)
	require.Equal(t, "merged", hops[0].Result)

	require.NoError(t, store.RecordLinks(ctx, "src", []string{"x", "y", "x"}))
	require.NoError(t, store.RecordLinks(ctx, "src", []string{"y", "z"}))
	links, err := store.OutLinks(ctx, "src")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"x", "y", "z"}, links)
}

func testStatsAndReset(t *testing.T, factory Factory) {
	ctx := context.Background()
	store, _ := open(t, factory, frontier.DefaultOptions())

	for _, k := range []string{"a", "b", "c"} {
		_, err := store.Enqueue(ctx, Request(k, 0, 1))
		require.NoError(t, err)
	}
	claimed, err := store.ClaimBatch(ctx, 1, "w1")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, claimed[0].Claim(), frontier.Fetched{Status: 200}))
	_, err = store.ClaimBatch(ctx, 1, "w1")
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats[frontier.StateFetched])
	require.Equal(t, 1, stats[frontier.StateClaimed])
	require.Equal(t, 1, stats[frontier.StateQueued])
	require.Equal(t, 3, stats.Total())

	require.NoError(t, store.RecordLinks(ctx, "a", []string{"b"}))
	require.NoError(t, store.Reset(ctx))

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Total())
	links, err := store.OutLinks(ctx, "a")
	require.NoError(t, err)
	require.Empty(t, links)
	done, err := store.IsExhausted(ctx)
	require.NoError(t, err)
	require.True(t, done)
}
