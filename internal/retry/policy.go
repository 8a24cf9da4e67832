// Package retry decides whether a failed fetch is retried and how long the
// entry waits before it becomes claimable again.
package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
)

// MaxJitter is the widest jitter fraction that keeps successive delays
// non-decreasing: base*2^n*(1+j) <= base*2^(n+1)*(1-j) holds iff j <= 1/3.
const MaxJitter = 1.0 / 3.0

// Config tunes the backoff schedule.
type Config struct {
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter is the fraction f in delay*(1±f).
	Jitter float64
	// RetryAfterMax caps server supplied Retry-After values. Zero means MaxDelay.
	RetryAfterMax time.Duration
}

// Decision is the verdict for one failure.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Option customizes a Policy.
type Option func(*Policy)

// WithRandom overrides the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(p *Policy) {
		p.random = fn
	}
}

// Policy implements exponential backoff with bounded jitter.
type Policy struct {
	cfg    Config
	random func() float64
}

// New validates cfg and builds a Policy.
func New(cfg Config, opts ...Option) (*Policy, error) {
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0")
	}
	if cfg.BaseDelay <= 0 {
		return nil, fmt.Errorf("base delay must be > 0")
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return nil, fmt.Errorf("max delay must be >= base delay")
	}
	if cfg.Jitter < 0 || cfg.Jitter > MaxJitter {
		return nil, fmt.Errorf("jitter must be within [0, 1/3]")
	}
	if cfg.RetryAfterMax <= 0 {
		cfg.RetryAfterMax = cfg.MaxDelay
	}
	p := &Policy{cfg: cfg, random: rand.Float64}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Backoff returns the wait before the retry that follows attempts failures
// (attempts counts from zero).
func (p *Policy) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempts))
	if p.cfg.Jitter > 0 {
		delay *= 1 + p.cfg.Jitter*(2*p.random()-1)
	}
	if delay > float64(p.cfg.MaxDelay) || math.IsInf(delay, 1) {
		return p.cfg.MaxDelay
	}
	return time.Duration(delay)
}

// Decide returns the verdict for a failure given the number of failures the
// entry had before this one. Permanent errors are never retried.
func (p *Policy) Decide(attempts int, err error) Decision {
	var fe *crawler.FetchError
	if errors.As(err, &fe) && fe.Permanent() {
		return Decision{}
	}
	if attempts >= p.cfg.MaxRetries {
		return Decision{}
	}
	if fe != nil && fe.RetryAfter > 0 {
		delay := fe.RetryAfter
		if delay > p.cfg.RetryAfterMax {
			delay = p.cfg.RetryAfterMax
		}
		return Decision{Retry: true, Delay: delay}
	}
	return Decision{Retry: true, Delay: p.Backoff(attempts)}
}

// Failure converts a fetch error into the frontier outcome for an entry with
// the given prior attempt count.
func (p *Policy) Failure(attempts int, err error) frontier.Failed {
	d := p.Decide(attempts, err)
	out := frontier.Failed{
		Kind:  string(crawler.ClassifyError(err)),
		Retry: d.Retry,
		Delay: d.Delay,
	}
	if err != nil {
		out.Message = err.Error()
	}
	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		out.Status = fe.Status
	}
	return out
}
