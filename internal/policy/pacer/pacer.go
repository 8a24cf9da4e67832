// Package pacer spaces requests per host. Each host gets an in-flight cap and
// a minimum gap between request starts that adapts to server feedback.
package pacer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Config tunes the pacer.
type Config struct {
	// Delay is the base gap between request starts to one host.
	Delay time.Duration
	// MaxDelay caps adaptive growth and robots crawl-delay floors.
	MaxDelay    time.Duration
	MaxInFlight int
	Adaptive    bool
	// IncreaseFactor multiplies the delay after throttling responses.
	IncreaseFactor float64
	// DecreaseFactor multiplies the delay after healthy responses.
	DecreaseFactor float64
}

// minAdaptiveDelay seeds growth for hosts configured without a delay.
const minAdaptiveDelay = 100 * time.Millisecond

type hostState struct {
	sem   *semaphore.Weighted
	next  time.Time
	delay time.Duration
	floor time.Duration
}

// Pacer hands out per-host slots.
type Pacer struct {
	cfg   Config
	clock crawler.Clock
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	hosts map[string]*hostState
}

// Option customizes a Pacer.
type Option func(*Pacer)

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(p *Pacer) { p.clock = c }
}

// WithSleep overrides how the pacer waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pacer) { p.sleep = fn }
}

// New validates cfg and returns a Pacer.
func New(cfg Config, opts ...Option) (*Pacer, error) {
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("delay must be >= 0")
	}
	if cfg.MaxDelay < cfg.Delay {
		cfg.MaxDelay = cfg.Delay
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.IncreaseFactor <= 1 {
		cfg.IncreaseFactor = 1.5
	}
	if cfg.DecreaseFactor <= 0 || cfg.DecreaseFactor >= 1 {
		cfg.DecreaseFactor = 0.9
	}
	p := &Pacer{
		cfg:   cfg,
		clock: system.New(),
		sleep: sleepCtx,
		hosts: make(map[string]*hostState),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Pacer) host(host string) *hostState {
	host = strings.ToLower(host)
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hosts[host]
	if !ok {
		h = &hostState{
			sem:   semaphore.NewWeighted(int64(p.cfg.MaxInFlight)),
			delay: p.cfg.Delay,
		}
		p.hosts[host] = h
	}
	return h
}

func (p *Pacer) effective(h *hostState) time.Duration {
	d := h.delay
	if h.floor > d {
		d = h.floor
	}
	if p.cfg.MaxDelay > 0 && d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	return d
}

// Acquire waits for an in-flight slot on host and for the host's spacing,
// then returns a release func and the total time spent waiting. Each caller
// reserves its start time under the lock, so starts are spaced by at least
// the delay no matter how many workers wait on the same host.
func (p *Pacer) Acquire(ctx context.Context, host string) (func(), time.Duration, error) {
	h := p.host(host)
	begin := p.clock.Now()
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, fmt.Errorf("acquire host slot: %w", err)
	}
	release := func() { h.sem.Release(1) }

	p.mu.Lock()
	now := p.clock.Now()
	start := now
	if h.next.After(start) {
		start = h.next
	}
	h.next = start.Add(p.effective(h))
	p.mu.Unlock()

	if err := p.sleep(ctx, start.Sub(now)); err != nil {
		release()
		return nil, 0, fmt.Errorf("wait host spacing: %w", err)
	}
	return release, p.clock.Now().Sub(begin), nil
}

// SetFloor records a minimum delay for host, typically its robots.txt
// Crawl-delay.
func (p *Pacer) SetFloor(host string, d time.Duration) {
	h := p.host(host)
	p.mu.Lock()
	h.floor = d
	p.mu.Unlock()
}

// Feedback adapts the host's delay to a response status. It is a no-op when
// adaptation is disabled.
func (p *Pacer) Feedback(host string, status int) {
	if !p.cfg.Adaptive {
		return
	}
	h := p.host(host)
	p.mu.Lock()
	defer p.mu.Unlock()

	base := p.cfg.Delay
	// A zero delay cannot grow multiplicatively.
	current := h.delay
	if current <= 0 {
		current = minAdaptiveDelay
	}
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		h.delay = time.Duration(float64(current) * p.cfg.IncreaseFactor * 2)
	case http.StatusRequestTimeout, 420, http.StatusLocked, http.StatusUnavailableForLegalReasons:
		h.delay = time.Duration(float64(current) * p.cfg.IncreaseFactor)
	case http.StatusOK, http.StatusNotModified:
		h.delay = time.Duration(float64(h.delay) * p.cfg.DecreaseFactor)
		if h.delay < base {
			h.delay = base
		}
	default:
		return
	}
	if p.cfg.MaxDelay > 0 && h.delay > p.cfg.MaxDelay {
		h.delay = p.cfg.MaxDelay
	}
}

// Delay returns the host's current effective delay.
func (p *Pacer) Delay(host string) time.Duration {
	h := p.host(host)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.effective(h)
}
