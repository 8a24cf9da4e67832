// Package scheduler runs a crawl session: a bounded pool of workers claims
// frontier entries, paces requests per host, fetches, resolves redirects and
// feeds discovered links back into the frontier until the frontier is
// exhausted, the page budget is spent or the context is canceled.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/hash/xxhash"
	"github.com/JakeFAU/frontier-crawler/internal/id/uuid"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/JakeFAU/frontier-crawler/internal/progress"
	"github.com/JakeFAU/frontier-crawler/internal/redirect"
)

// Summary reports the totals of one session.
type Summary struct {
	SessionID  string
	StartedAt  time.Time
	Duration   time.Duration
	Fetched    int64
	Redirected int64
	Retried    int64
	Abandoned  int64
	// Released counts claims handed back without an attempt (shutdown, open
	// circuit, exhausted budget).
	Released int64
	Canceled bool
	Frontier frontier.Stats
}

type counters struct {
	fetched    atomic.Int64
	redirected atomic.Int64
	retried    atomic.Int64
	abandoned  atomic.Int64
	released   atomic.Int64
}

// Scheduler owns the worker pool of one crawl session at a time.
type Scheduler struct {
	cfg       Config
	deps      Deps
	resolver  *redirect.Resolver
	retryable map[int]bool
	logger    *zap.Logger
	clock     crawler.Clock
	emitter   progress.Emitter
	hasher    crawler.Hasher

	classifyMu sync.RWMutex
	floors     sync.Map

	running   atomic.Bool
	sessMu    sync.RWMutex
	sessionID string
	sessionB  [16]byte
	budget    *budget
	counters  *counters
}

// New validates deps and builds a Scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Hasher == nil {
		deps.Hasher = xxhash.New()
	}
	emitter := deps.Progress
	if emitter == nil {
		emitter = progress.Discard{}
	}
	s := &Scheduler{
		cfg:       cfg,
		deps:      deps,
		retryable: make(map[int]bool, len(cfg.RetryStatuses)),
		logger:    deps.Logger,
		clock:     deps.Clock,
		emitter:   emitter,
		hasher:    deps.Hasher,
	}
	for _, code := range cfg.RetryStatuses {
		s.retryable[code] = true
	}
	resolver, err := redirect.New(redirect.Config{
		Store:        deps.Store,
		Normalizer:   deps.Normalizer,
		Gate:         gate{s: s},
		Clock:        deps.Clock,
		Logger:       deps.Logger.Named("redirect"),
		MaxRedirects: cfg.MaxRedirects,
	})
	if err != nil {
		return nil, fmt.Errorf("build redirect resolver: %w", err)
	}
	s.resolver = resolver
	return s, nil
}

// Run executes one session and blocks until it ends. Cancellation stops new
// claims at once; in-flight fetches finish within the fetch timeout and
// unstarted claims are released, so no entry is left Claimed.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, fmt.Errorf("scheduler: session already running")
	}
	defer s.running.Store(false)

	id, err := s.deps.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate session id: %w", err)
	}
	raw, err := uuid.Parse(id)
	if err != nil {
		return Summary{}, fmt.Errorf("parse session id: %w", err)
	}
	s.sessMu.Lock()
	s.sessionID, s.sessionB = id, raw
	s.sessMu.Unlock()
	s.counters = &counters{}
	s.budget = newBudget(s.cfg.MaxPages)

	started := s.clock.Now()
	logger := s.logger.With(zap.String("session_id", id))
	logger.Info("crawl session started",
		zap.Int("concurrency", s.cfg.Concurrency),
		zap.Int("max_pages", s.cfg.MaxPages),
	)
	s.emitter.Emit(progress.Event{SessionID: raw, TS: started, Stage: progress.StageSessionStart})

	helpersCtx, stopHelpers := context.WithCancel(context.WithoutCancel(ctx))
	var helpers sync.WaitGroup
	helpers.Add(2)
	go func() {
		defer helpers.Done()
		s.reclaimLoop(helpersCtx)
	}()
	go func() {
		defer helpers.Done()
		s.statsLoop(helpersCtx)
	}()

	var workers sync.WaitGroup
	for i := range s.cfg.Concurrency {
		workerID := fmt.Sprintf("%s-w%d", id, i)
		workers.Add(1)
		go func() {
			defer workers.Done()
			s.work(ctx, workerID)
		}()
	}
	workers.Wait()
	stopHelpers()
	helpers.Wait()

	drainCtx, cancel := s.drainContext(ctx)
	defer cancel()
	stats, statsErr := s.deps.Store.Stats(drainCtx)
	if statsErr != nil {
		logger.Warn("frontier stats failed", zap.Error(statsErr))
	}
	s.publishStats(stats)

	summary := Summary{
		SessionID:  id,
		StartedAt:  started,
		Duration:   s.clock.Now().Sub(started),
		Fetched:    s.counters.fetched.Load(),
		Redirected: s.counters.redirected.Load(),
		Retried:    s.counters.retried.Load(),
		Abandoned:  s.counters.abandoned.Load(),
		Released:   s.counters.released.Load(),
		Canceled:   ctx.Err() != nil,
		Frontier:   stats,
	}
	s.finish(summary)
	logger.Info("crawl session finished",
		zap.Int64("fetched", summary.Fetched),
		zap.Int64("redirected", summary.Redirected),
		zap.Int64("retried", summary.Retried),
		zap.Int64("abandoned", summary.Abandoned),
		zap.Int64("released", summary.Released),
		zap.Bool("canceled", summary.Canceled),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (s *Scheduler) finish(summary Summary) {
	evt := progress.Event{
		SessionID: s.sessionB,
		TS:        s.clock.Now(),
		Stage:     progress.StageSessionDone,
		Dur:       summary.Duration,
		Counters: progress.Counters{
			Fetched:    summary.Fetched,
			Redirected: summary.Redirected,
			Retried:    summary.Retried,
			Abandoned:  summary.Abandoned,
		},
	}
	status := "success"
	if summary.Canceled {
		evt.Outcome = progress.OutcomeCanceled
		status = progress.OutcomeCanceled
	}
	s.emitter.Emit(evt)
	metrics.ObserveSession(status)
}

// SessionID returns the ID of the running or last session.
func (s *Scheduler) SessionID() string {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	return s.sessionID
}

// Running reports whether a session is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// drainContext detaches from cancellation so shutdown writes still land.
func (s *Scheduler) drainContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DrainTimeout)
}

func (s *Scheduler) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.deps.Store.ReclaimStale(ctx, s.cfg.ClaimTTL)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("reclaim stale claims failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				s.logger.Info("reclaimed stale claims", zap.Int("count", n))
			}
		}
	}
}

func (s *Scheduler) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.deps.Store.Stats(ctx)
			if err != nil {
				continue
			}
			s.publishStats(stats)
		}
	}
}

func (s *Scheduler) publishStats(stats frontier.Stats) {
	if stats == nil {
		return
	}
	for _, state := range frontier.States {
		metrics.SetFrontierEntries(string(state), stats[state])
	}
}

// budget hands out page slots. A slot is reserved before a fetch and given
// back when the entry does not end Fetched, so at most max pages are fetched
// even with many workers in flight.
type budget struct {
	max      int64
	reserved atomic.Int64
	used     atomic.Int64
}

func newBudget(maxPages int) *budget {
	return &budget{max: int64(maxPages)}
}

func (b *budget) unlimited() bool { return b.max <= 0 }

func (b *budget) reserve() bool {
	if b.unlimited() {
		return true
	}
	for {
		cur := b.reserved.Load()
		if cur >= b.max {
			return false
		}
		if b.reserved.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (b *budget) settle(fetched bool) {
	if b.unlimited() {
		return
	}
	if fetched {
		b.used.Add(1)
		return
	}
	b.reserved.Add(-1)
}

func (b *budget) spent() bool {
	return !b.unlimited() && b.used.Load() >= b.max
}
