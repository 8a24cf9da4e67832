package frontier

import (
	"fmt"
	"time"
)

const maxErrorLen = 512

// Admissible reports whether a URL may be queued.
func Admissible(admitted bool, depth int, opts Options) bool {
	return admitted && (opts.MaxDepth == DepthUnlimited || depth <= opts.MaxDepth)
}

// NewEntry builds the entry for a first-seen key.
func NewEntry(req EnqueueRequest, opts Options, now time.Time) Entry {
	e := Entry{
		Key:             req.Key,
		URL:             req.URL,
		Host:            req.Host,
		Class:           req.Class,
		Source:          req.Source,
		Depth:           req.Depth,
		Score:           req.Score,
		SitemapPriority: req.SitemapPriority,
		State:           StateDiscovered,
		NextEligibleAt:  now,
		DiscoveredAt:    now,
		UpdatedAt:       now,
	}
	if req.Source == SourceLink {
		e.Inlinks = 1
	}
	if Admissible(req.Admitted, req.Depth, opts) {
		e.State = StateQueued
	}
	return e
}

// Merge folds a repeated discovery into an existing entry and reports whether
// anything changed.
func Merge(e Entry, req EnqueueRequest, opts Options, now time.Time) (Entry, bool) {
	before := e
	if req.Depth < e.Depth {
		e.Depth = req.Depth
	}
	if req.SitemapPriority > e.SitemapPriority {
		e.SitemapPriority = req.SitemapPriority
	}
	if req.Score > e.Score {
		e.Score = req.Score
	}
	if req.Source == SourceLink {
		e.Inlinks++
		if s := opts.Weights.Score(e.Depth, e.SitemapPriority, e.Inlinks); s > e.Score {
			e.Score = s
		}
	}

	switch e.State {
	case StateDiscovered:
		if Admissible(req.Admitted, e.Depth, opts) {
			e.State = StateQueued
			e.NextEligibleAt = now
		}
	case StateAbandoned:
		if opts.ReviveAbandoned && Admissible(req.Admitted, e.Depth, opts) {
			e.State = StateQueued
			e.Attempts = 0
			e.LastError = ""
			e.NextEligibleAt = now
		}
	}

	if e == before {
		return e, false
	}
	e.UpdatedAt = now
	return e, true
}

// Eligible reports whether e can be claimed at now.
func Eligible(e Entry, now time.Time) bool {
	return e.State == StateQueued && !e.NextEligibleAt.After(now)
}

// ClaimEntry marks e as claimed by worker.
func ClaimEntry(e Entry, worker string, now time.Time) Entry {
	e.State = StateClaimed
	e.ClaimedBy = worker
	e.ClaimedAt = now
	e.UpdatedAt = now
	return e
}

// ApplyOutcome moves a claimed entry to the state its outcome selects. A
// repeated call for an outcome already applied by the same worker returns
// changed=false and no error.
func ApplyOutcome(e Entry, claim Claim, o Outcome, now time.Time) (Entry, bool, error) {
	if e.State != StateClaimed || e.ClaimedBy != claim.Worker {
		if e.State != StateClaimed && e.ClaimedBy == claim.Worker && e.LastOutcome == o.Name() {
			return e, false, nil
		}
		return e, false, fmt.Errorf("%w: entry %d is %s (claimed by %q)", ErrInvalidTransition, e.ID, e.State, e.ClaimedBy)
	}

	switch o := o.(type) {
	case Fetched:
		e.State = StateFetched
		e.LastStatus = o.Status
		e.ContentHash = o.ContentHash
		e.LastError = ""
	case Redirected:
		e.State = StateRedirected
		e.RedirectTarget = o.TargetKey
		e.LastError = ""
	case Failed:
		e.Attempts++
		e.LastStatus = o.Status
		e.LastError = truncate(o.Kind + ": " + o.Message)
		if o.Retry {
			e.State = StateQueued
			e.NextEligibleAt = now.Add(o.Delay)
		} else {
			e.State = StateAbandoned
		}
	default:
		return e, false, fmt.Errorf("%w: unknown outcome %T", ErrInvalidTransition, o)
	}
	e.LastOutcome = o.Name()
	e.UpdatedAt = now
	return e, true, nil
}

// ReleaseEntry returns a claimed entry to Queued. Entries no longer held by
// the claim are left untouched.
func ReleaseEntry(e Entry, claim Claim, eligibleAt, now time.Time) (Entry, bool) {
	if e.State != StateClaimed || e.ClaimedBy != claim.Worker {
		return e, false
	}
	e.State = StateQueued
	e.NextEligibleAt = eligibleAt
	e.UpdatedAt = now
	return e, true
}

// Stale reports whether a claim is older than maxAge.
func Stale(e Entry, maxAge time.Duration, now time.Time) bool {
	return e.State == StateClaimed && !e.ClaimedAt.After(now.Add(-maxAge))
}

// Requeue returns a stale claim to Queued.
func Requeue(e Entry, now time.Time) Entry {
	e.State = StateQueued
	e.ClaimedBy = ""
	e.NextEligibleAt = now
	e.UpdatedAt = now
	return e
}

func truncate(s string) string {
	if len(s) <= maxErrorLen {
		return s
	}
	return s[:maxErrorLen]
}
