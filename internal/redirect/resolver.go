// Package redirect resolves 3xx responses against the frontier: it bounds
// and loop-checks chains, records every hop, and decides whether the worker
// follows the destination immediately, merges into an existing entry, or
// leaves the destination for later.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/urlnorm"
)

// ErrRedirectLoopOrTooLong marks a chain that revisited a key or exceeded
// the hop limit.
var ErrRedirectLoopOrTooLong = errors.New("redirect loop or chain too long")

// Action is what the worker does after a redirect.
type Action int

// Resolution actions.
const (
	// Follow: the destination was claimed for this worker; fetch it next.
	Follow Action = iota + 1
	// Merge: the destination already has an entry; nothing more to fetch.
	Merge
	// Defer: the destination was recorded but not followed now.
	Defer
	// Fail: the chain is a loop, too long, or points at an invalid URL.
	Fail
)

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case Follow:
		return "followed"
	case Merge:
		return "merged"
	case Defer:
		return "deferred"
	case Fail:
		return "failed"
	default:
		return "unknown"
	}
}

// Gate decides whether a redirect destination may be queued.
type Gate interface {
	Admit(ctx context.Context, target urlnorm.URL, depth int) (class string, admitted bool)
}

// Chain is the redirect history carried from the origin entry through every
// followed hop.
type Chain struct {
	// OriginKey is the key of the entry whose fetch started the chain; all
	// hops are recorded under it.
	OriginKey string
	// Keys holds every key visited so far, origin first.
	Keys []string
}

// NewChain starts a chain at origin.
func NewChain(origin frontier.Entry) Chain {
	return Chain{OriginKey: origin.Key, Keys: []string{origin.Key}}
}

// Len is the number of hops taken so far.
func (c Chain) Len() int {
	if len(c.Keys) == 0 {
		return 0
	}
	return len(c.Keys) - 1
}

func (c Chain) extend(key string) Chain {
	return Chain{OriginKey: c.OriginKey, Keys: append(slices.Clone(c.Keys), key)}
}

// Resolution is the resolver's verdict for one hop.
type Resolution struct {
	Action Action
	// Outcome completes the entry that returned the redirect.
	Outcome frontier.Outcome
	// Target is the claimed destination when Action is Follow.
	Target frontier.Entry
	// Chain includes this hop.
	Chain Chain
	Err   error
}

// Config wires a Resolver.
type Config struct {
	Store        frontier.Store
	Normalizer   *urlnorm.Normalizer
	Gate         Gate
	Clock        crawler.Clock
	Logger       *zap.Logger
	MaxRedirects int
}

// Resolver applies redirect rules.
type Resolver struct {
	store      frontier.Store
	normalizer *urlnorm.Normalizer
	gate       Gate
	clock      crawler.Clock
	logger     *zap.Logger
	max        int
}

// New validates cfg and returns a Resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Store == nil || cfg.Normalizer == nil || cfg.Gate == nil {
		return nil, fmt.Errorf("store, normalizer and gate are required")
	}
	if cfg.MaxRedirects < 1 {
		return nil, fmt.Errorf("max redirects must be >= 1")
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Resolver{
		store:      cfg.Store,
		normalizer: cfg.Normalizer,
		gate:       cfg.Gate,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		max:        cfg.MaxRedirects,
	}, nil
}

// Resolve handles a redirect from source (claimed by worker) to location.
// The returned error is only set for store failures; rule violations are
// reported as a Fail resolution.
func (r *Resolver) Resolve(
	ctx context.Context,
	source frontier.Entry,
	status int,
	location string,
	chain Chain,
	worker string,
) (Resolution, error) {
	if len(chain.Keys) == 0 {
		chain = NewChain(source)
	}
	hop := frontier.RedirectHop{
		SourceKey:   chain.OriginKey,
		Seq:         chain.Len() + 1,
		FromURL:     source.URL,
		ToURL:       location,
		Status:      status,
		ChainLength: chain.Len() + 1,
		CreatedAt:   r.clock.Now(),
	}

	target, err := r.normalizer.Normalize(location, source.URL)
	if err != nil {
		hop.Result = "invalid"
		return r.fail(ctx, hop, chain, crawler.KindInvalidURL, fmt.Errorf("redirect target %q: %w", location, err))
	}
	hop.ToURL = target.Canonical
	hop.ToKey = target.Key

	switch {
	case slices.Contains(chain.Keys, target.Key):
		hop.Result = "loop"
		return r.fail(ctx, hop, chain, crawler.KindRedirectLoop,
			fmt.Errorf("%w: %s revisited after %d hops", ErrRedirectLoopOrTooLong, target.Canonical, chain.Len()))
	case hop.ChainLength > r.max:
		hop.Result = "too_long"
		return r.fail(ctx, hop, chain, crawler.KindRedirectLoop,
			fmt.Errorf("%w: more than %d hops", ErrRedirectLoopOrTooLong, r.max))
	}
	next := chain.extend(target.Key)

	existing, found, err := r.store.Lookup(ctx, target.Key)
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup redirect target: %w", err)
	}
	if found && existing.State != frontier.StateDiscovered {
		hop.Result = Merge.String()
		if err := r.store.RecordRedirect(ctx, hop); err != nil {
			return Resolution{}, err
		}
		return Resolution{
			Action:  Merge,
			Outcome: frontier.Redirected{TargetKey: target.Key, Merged: true},
			Chain:   next,
		}, nil
	}

	class, admitted := r.gate.Admit(ctx, target, source.Depth)
	res, err := r.store.Enqueue(ctx, frontier.EnqueueRequest{
		Key:      target.Key,
		URL:      target.Canonical,
		Host:     target.Host,
		Class:    class,
		Source:   frontier.SourceRedirect,
		Depth:    source.Depth,
		Score:    source.Score,
		Admitted: admitted,
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("enqueue redirect target: %w", err)
	}

	resolution := Resolution{
		Action:  Defer,
		Outcome: frontier.Redirected{TargetKey: target.Key},
		Chain:   next,
	}
	if res.Entry.State == frontier.StateQueued {
		claimed, ok, err := r.store.ClaimKey(ctx, target.Key, worker)
		if err != nil {
			return Resolution{}, fmt.Errorf("claim redirect target: %w", err)
		}
		if ok {
			resolution.Action = Follow
			resolution.Target = claimed
		}
	}
	hop.Result = resolution.Action.String()
	if err := r.store.RecordRedirect(ctx, hop); err != nil {
		return Resolution{}, err
	}
	r.logger.Debug("redirect resolved",
		zap.String("from", source.URL),
		zap.String("to", target.Canonical),
		zap.String("result", hop.Result),
		zap.Int("chain_length", hop.ChainLength),
	)
	return resolution, nil
}

func (r *Resolver) fail(
	ctx context.Context,
	hop frontier.RedirectHop,
	chain Chain,
	kind crawler.ErrorKind,
	cause error,
) (Resolution, error) {
	if err := r.store.RecordRedirect(ctx, hop); err != nil {
		return Resolution{}, err
	}
	r.logger.Info("redirect chain abandoned",
		zap.String("origin_key", chain.OriginKey),
		zap.String("result", hop.Result),
		zap.Error(cause),
	)
	return Resolution{
		Action: Fail,
		Outcome: frontier.Failed{
			Kind:    string(kind),
			Status:  hop.Status,
			Message: cause.Error(),
		},
		Chain: chain,
		Err:   cause,
	}, nil
}
