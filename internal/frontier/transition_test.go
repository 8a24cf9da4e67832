package frontier

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func req(key string, depth int, score float64) EnqueueRequest {
	return EnqueueRequest{
		Key:      key,
		URL:      "https://example.com/" + key,
		Host:     "example.com",
		Source:   SourceSeed,
		Depth:    depth,
		Score:    score,
		Admitted: true,
	}
}

func TestNewEntryAdmission(t *testing.T) {
	t.Parallel()

	opts := Options{MaxDepth: 2, Weights: DefaultWeights()}

	require.Equal(t, StateQueued, NewEntry(req("a", 2, 1), opts, t0).State)
	require.Equal(t, StateDiscovered, NewEntry(req("b", 3, 1), opts, t0).State, "beyond max depth")

	offsite := req("c", 0, 1)
	offsite.Admitted = false
	require.Equal(t, StateDiscovered, NewEntry(offsite, opts, t0).State)

	unlimited := Options{MaxDepth: DepthUnlimited}
	require.Equal(t, StateQueued, NewEntry(req("d", 99, 1), unlimited, t0).State)

	link := req("e", 1, 1)
	link.Source = SourceLink
	require.Equal(t, 1, NewEntry(link, opts, t0).Inlinks)
}

func TestMergeKeepsMaxScoreAndMinDepth(t *testing.T) {
	t.Parallel()

	opts := Options{MaxDepth: 5, Weights: Weights{}}
	e := NewEntry(req("a", 3, 0.4), opts, t0)

	merged, changed := Merge(e, req("a", 1, 0.2), opts, t0.Add(time.Second))
	require.True(t, changed)
	require.Equal(t, 1, merged.Depth)
	require.InDelta(t, 0.4, merged.Score, 1e-9)

	merged, changed = Merge(merged, req("a", 4, 0.9), opts, t0.Add(2*time.Second))
	require.True(t, changed)
	require.Equal(t, 1, merged.Depth, "depth never increases")
	require.InDelta(t, 0.9, merged.Score, 1e-9)

	_, changed = Merge(merged, req("a", 4, 0.1), opts, t0.Add(3*time.Second))
	require.False(t, changed)
}

func TestMergeCountsInlinks(t *testing.T) {
	t.Parallel()

	opts := Options{MaxDepth: 5, Weights: Weights{Depth: 1, Inlinks: 1}}
	link := req("a", 1, opts.Weights.Score(1, 0, 1))
	link.Source = SourceLink
	e := NewEntry(link, opts, t0)

	merged, changed := Merge(e, link, opts, t0)
	require.True(t, changed)
	require.Equal(t, 2, merged.Inlinks)
	require.InDelta(t, opts.Weights.Score(1, 0, 2), merged.Score, 1e-9)
}

func TestMergePromotesDiscovered(t *testing.T) {
	t.Parallel()

	opts := Options{MaxDepth: 1}
	deep := NewEntry(req("a", 3, 0.1), opts, t0)
	require.Equal(t, StateDiscovered, deep.State)

	promoted, changed := Merge(deep, req("a", 1, 0.1), opts, t0)
	require.True(t, changed)
	require.Equal(t, StateQueued, promoted.State)
}

func TestMergeAbandonedRevival(t *testing.T) {
	t.Parallel()

	e := NewEntry(req("a", 0, 1), Options{MaxDepth: 3}, t0)
	e.State = StateAbandoned
	e.Attempts = 3

	kept, changed := Merge(e, req("a", 0, 1), Options{MaxDepth: 3}, t0)
	require.False(t, changed)
	require.Equal(t, StateAbandoned, kept.State)

	revived, changed := Merge(e, req("a", 0, 1), Options{MaxDepth: 3, ReviveAbandoned: true}, t0)
	require.True(t, changed)
	require.Equal(t, StateQueued, revived.State)
	require.Zero(t, revived.Attempts)
}

func TestApplyOutcome(t *testing.T) {
	t.Parallel()

	base := ClaimEntry(NewEntry(req("a", 0, 1), Options{MaxDepth: 3}, t0), "w1", t0)
	claim := base.Claim()

	fetched, changed, err := ApplyOutcome(base, claim, Fetched{Status: 404}, t0)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, StateFetched, fetched.State)
	require.Equal(t, 404, fetched.LastStatus)

	again, changed, err := ApplyOutcome(fetched, claim, Fetched{Status: 404}, t0)
	require.NoError(t, err, "repeat is a no-op")
	require.False(t, changed)
	require.Equal(t, fetched, again)

	_, _, err = ApplyOutcome(fetched, claim, Redirected{TargetKey: "b"}, t0)
	require.True(t, errors.Is(err, ErrInvalidTransition))

	_, _, err = ApplyOutcome(base, Claim{EntryID: base.ID, Worker: "w2"}, Fetched{}, t0)
	require.ErrorIs(t, err, ErrInvalidTransition)

	retry, _, err := ApplyOutcome(base, claim, Failed{Kind: "timeout", Retry: true, Delay: 4 * time.Second}, t0)
	require.NoError(t, err)
	require.Equal(t, StateQueued, retry.State)
	require.Equal(t, 1, retry.Attempts)
	require.Equal(t, t0.Add(4*time.Second), retry.NextEligibleAt)
	require.False(t, Eligible(retry, t0.Add(time.Second)))
	require.True(t, Eligible(retry, t0.Add(4*time.Second)))

	abandoned, _, err := ApplyOutcome(base, claim, Failed{Kind: "dns_not_found"}, t0)
	require.NoError(t, err)
	require.Equal(t, StateAbandoned, abandoned.State)

	redirected, _, err := ApplyOutcome(base, claim, Redirected{TargetKey: "b", Merged: true}, t0)
	require.NoError(t, err)
	require.Equal(t, StateRedirected, redirected.State)
	require.Equal(t, "b", redirected.RedirectTarget)
}

func TestReleaseAndStale(t *testing.T) {
	t.Parallel()

	claimed := ClaimEntry(NewEntry(req("a", 0, 1), Options{MaxDepth: 3}, t0), "w1", t0)

	_, ok := ReleaseEntry(claimed, Claim{Worker: "w2"}, t0, t0)
	require.False(t, ok)

	released, ok := ReleaseEntry(claimed, claimed.Claim(), t0.Add(time.Minute), t0)
	require.True(t, ok)
	require.Equal(t, StateQueued, released.State)
	require.Zero(t, released.Attempts)

	require.False(t, Stale(claimed, 5*time.Minute, t0.Add(time.Minute)))
	require.True(t, Stale(claimed, 5*time.Minute, t0.Add(5*time.Minute)))
	require.Equal(t, StateQueued, Requeue(claimed, t0).State)
}
