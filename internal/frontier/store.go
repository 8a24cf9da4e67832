package frontier

import (
	"context"
	"errors"
	"time"
)

// Store errors.
var (
	ErrNotFound          = errors.New("frontier entry not found")
	ErrInvalidTransition = errors.New("invalid frontier transition")
	// ErrClaimConflict signals a lost claim race. Backends retry it
	// internally and never return it from ClaimBatch.
	ErrClaimConflict = errors.New("frontier claim conflict")
)

// Store is the durable frontier. Every method is atomic with respect to
// concurrent callers in the same or other processes sharing the backend.
type Store interface {
	// Enqueue inserts a URL or merges it into the existing entry for its key:
	// the score keeps the maximum, the depth never increases, and inbound
	// links are counted.
	Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error)
	// ClaimBatch atomically claims up to n eligible Queued entries, ordered
	// by score descending, depth ascending and insertion order.
	ClaimBatch(ctx context.Context, n int, worker string) ([]Entry, error)
	// ClaimKey claims the entry for key when it is Queued and eligible.
	ClaimKey(ctx context.Context, key string, worker string) (Entry, bool, error)
	// Complete applies the outcome of a claimed entry. Repeating a completed
	// call is a no-op.
	Complete(ctx context.Context, claim Claim, outcome Outcome) error
	// Release returns claimed entries to Queued without consuming an attempt.
	Release(ctx context.Context, claims []Claim, eligibleAt time.Time) error
	// ReclaimStale returns entries claimed longer than maxAge to Queued.
	ReclaimStale(ctx context.Context, maxAge time.Duration) (int, error)
	// IsExhausted reports whether no entry is Queued or Claimed.
	IsExhausted(ctx context.Context) (bool, error)
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	RecordRedirect(ctx context.Context, hop RedirectHop) error
	Redirects(ctx context.Context, sourceKey string) ([]RedirectHop, error)
	RecordLinks(ctx context.Context, fromKey string, toKeys []string) error
	OutLinks(ctx context.Context, fromKey string) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
	// Reset deletes every entry, redirect and link.
	Reset(ctx context.Context) error
	Close() error
}
