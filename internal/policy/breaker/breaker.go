// Package breaker trips a per-host circuit after repeated transport failures
// so the crawl stops hammering hosts that are down.
package breaker

import (
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
)

// State is a circuit position.
type State string

// Circuit states.
const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

const (
	defaultThreshold = 5
	defaultRecovery  = 30 * time.Second
)

type circuit struct {
	state    State
	failures int
	openedAt time.Time
	// probing is set while the single half-open trial request is in flight.
	probing bool
}

// Breaker tracks one circuit per host.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration
	clock     crawler.Clock
	circuits  map[string]*circuit
}

// New builds a Breaker. A nil clock uses the wall clock.
func New(threshold int, recovery time.Duration, clock crawler.Clock) *Breaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if recovery <= 0 {
		recovery = defaultRecovery
	}
	if clock == nil {
		clock = system.New()
	}
	return &Breaker{
		threshold: threshold,
		recovery:  recovery,
		clock:     clock,
		circuits:  make(map[string]*circuit),
	}
}

// Recovery is how long a circuit stays open.
func (b *Breaker) Recovery() time.Duration {
	return b.recovery
}

func (b *Breaker) circuit(host string) *circuit {
	key := strings.ToLower(host)
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: Closed}
		b.circuits[key] = c
	}
	return c
}

func (b *Breaker) transition(c *circuit, to State) {
	if c.state == to {
		return
	}
	c.state = to
	metrics.ObserveBreakerTransition(string(to))
}

// Allow reports whether a request to host may proceed. An open circuit whose
// recovery has elapsed lets exactly one trial request through.
func (b *Breaker) Allow(host string) bool {
	if host == "" {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(host)
	switch c.state {
	case Open:
		if b.clock.Now().Sub(c.openedAt) < b.recovery {
			return false
		}
		b.transition(c, HalfOpen)
		c.probing = true
		return true
	case HalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	default:
		return true
	}
}

// Success closes the host's circuit.
func (b *Breaker) Success(host string) {
	if host == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(host)
	c.failures = 0
	c.probing = false
	b.transition(c, Closed)
}

// Failure counts a transport failure and returns true when the circuit is
// open afterwards.
func (b *Breaker) Failure(host string) bool {
	if host == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(host)
	c.probing = false
	if c.state == HalfOpen {
		c.openedAt = b.clock.Now()
		b.transition(c, Open)
		return true
	}
	c.failures++
	if c.state == Closed && c.failures >= b.threshold {
		c.openedAt = b.clock.Now()
		b.transition(c, Open)
	}
	return c.state == Open
}

// State returns the host's current circuit state.
func (b *Breaker) State(host string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuit(host).state
}
