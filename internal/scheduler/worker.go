package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/JakeFAU/frontier-crawler/internal/progress"
	"github.com/JakeFAU/frontier-crawler/internal/redirect"
)

// work is one worker's claim loop. It returns when ctx is canceled, the page
// budget is spent, or the frontier holds nothing Queued or Claimed.
func (s *Scheduler) work(ctx context.Context, workerID string) {
	logger := s.logger.With(zap.String("worker_id", workerID))
	for {
		if ctx.Err() != nil || s.budget.spent() {
			return
		}
		entries, err := s.deps.Store.ClaimBatch(ctx, s.cfg.BatchSize, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim batch failed", zap.Error(err))
			if !s.pause(ctx) {
				return
			}
			continue
		}
		if len(entries) == 0 {
			exhausted, err := s.deps.Store.IsExhausted(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("exhaustion check failed", zap.Error(err))
			}
			if err == nil && exhausted {
				logger.Debug("frontier exhausted")
				return
			}
			if !s.pause(ctx) {
				return
			}
			continue
		}
		metrics.ObserveClaims(len(entries))

		for i, entry := range entries {
			if ctx.Err() != nil || !s.budget.reserve() {
				s.release(ctx, entries[i:], s.clock.Now())
				if ctx.Err() == nil && !s.budget.spent() {
					// Other workers hold the remaining budget; their entries
					// may still fail and hand it back.
					if !s.pause(ctx) {
						return
					}
				}
				break
			}
			metrics.IncActiveWorkers()
			fetched := s.process(ctx, logger, entry, workerID)
			metrics.DecActiveWorkers()
			s.budget.settle(fetched)
		}
	}
}

// pause waits one poll interval and reports whether ctx is still live.
func (s *Scheduler) pause(ctx context.Context) bool {
	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) release(ctx context.Context, entries []frontier.Entry, eligibleAt time.Time) {
	if len(entries) == 0 {
		return
	}
	claims := make([]frontier.Claim, len(entries))
	for i, e := range entries {
		claims[i] = e.Claim()
	}
	drainCtx, cancel := s.drainContext(ctx)
	defer cancel()
	if err := s.deps.Store.Release(drainCtx, claims, eligibleAt); err != nil {
		s.logger.Error("release claims failed", zap.Int("count", len(claims)), zap.Error(err))
		return
	}
	s.counters.released.Add(int64(len(claims)))
}

// process drives one claimed entry, following redirect hops this worker
// manages to claim, and reports whether the chain ended Fetched.
func (s *Scheduler) process(ctx context.Context, logger *zap.Logger, entry frontier.Entry, workerID string) bool {
	chain := redirect.NewChain(entry)
	current := entry
	for {
		if s.deps.Breaker != nil && !s.deps.Breaker.Allow(current.Host) {
			logger.Debug("host circuit open, deferring entry",
				zap.String("host", current.Host), zap.Int64("entry_id", current.ID))
			s.release(ctx, []frontier.Entry{current}, s.clock.Now().Add(s.deps.Breaker.Recovery()))
			return false
		}

		att, ok := s.fetch(ctx, logger, current)
		if !ok {
			s.release(ctx, []frontier.Entry{current}, s.clock.Now())
			return false
		}
		result := crawler.Classify(att.resp, att.err, s.retryable, s.clock.Now())
		s.observeHost(current.Host, att.resp, result)

		switch r := result.(type) {
		case crawler.Redirected:
			next, follow := s.redirect(ctx, logger, current, r, chain, workerID)
			if !follow {
				return false
			}
			current, chain = next.Target, next.Chain
		case crawler.Fetched:
			s.fetched(ctx, logger, current, r.Response)
			return true
		case crawler.TransientError:
			s.failed(ctx, logger, current, r.Err)
			return false
		case crawler.PermanentError:
			s.failed(ctx, logger, current, r.Err)
			return false
		}
	}
}

type attempt struct {
	resp crawler.FetchResponse
	err  error
}

// fetch waits for the global limiter and the host slot, then performs one
// attempt. ok is false when ctx ended before the request started.
func (s *Scheduler) fetch(ctx context.Context, logger *zap.Logger, entry frontier.Entry) (attempt, bool) {
	s.applyRobotsFloor(ctx, entry)
	if _, err := s.deps.Limiter.Wait(ctx); err != nil {
		return attempt{}, false
	}
	release, waited, err := s.deps.Pacer.Acquire(ctx, entry.Host)
	if err != nil {
		return attempt{}, false
	}
	defer release()
	metrics.ObservePacingWait(waited)

	s.emitter.Emit(progress.Event{
		SessionID: s.sessionB,
		TS:        s.clock.Now(),
		Stage:     progress.StageFetchStart,
		Host:      entry.Host,
		URL:       entry.URL,
	})

	// The attempt runs to completion or timeout even if the session is
	// canceled meanwhile.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	defer cancel()
	resp, err := s.deps.Fetcher.Fetch(fetchCtx, crawler.FetchRequest{URL: entry.URL})
	if resp.URL == "" {
		resp.URL = entry.URL
	}
	logger.Debug("fetch attempt finished",
		zap.String("url", entry.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("attempt", entry.Attempts+1),
		zap.Duration("elapsed", resp.Duration),
		zap.Error(err),
	)
	return attempt{resp: resp, err: err}, true
}

func (s *Scheduler) observeHost(host string, resp crawler.FetchResponse, result crawler.FetchResult) {
	if resp.StatusCode > 0 {
		s.deps.Pacer.Feedback(host, resp.StatusCode)
	}
	if s.deps.Breaker == nil {
		return
	}
	transport := false
	switch r := result.(type) {
	case crawler.TransientError:
		transport = r.Err.Status == 0
	case crawler.PermanentError:
		transport = r.Err.Status == 0 && r.Err.Kind != crawler.KindInvalidURL
	}
	if transport {
		if s.deps.Breaker.Failure(host) {
			s.logger.Warn("host circuit open", zap.String("host", host))
		}
		return
	}
	s.deps.Breaker.Success(host)
}

func (s *Scheduler) redirect(
	ctx context.Context,
	logger *zap.Logger,
	current frontier.Entry,
	r crawler.Redirected,
	chain redirect.Chain,
	workerID string,
) (redirect.Resolution, bool) {
	drainCtx, cancel := s.drainContext(ctx)
	defer cancel()

	res, err := s.resolver.Resolve(drainCtx, current, r.Response.StatusCode, r.Location, chain, workerID)
	if err != nil {
		logger.Error("resolve redirect failed", zap.String("url", current.URL), zap.Error(err))
		s.release(ctx, []frontier.Entry{current}, s.clock.Now().Add(s.cfg.PollInterval))
		return redirect.Resolution{}, false
	}
	metrics.ObserveRedirect(res.Action.String())
	s.complete(drainCtx, logger, current, res.Outcome)
	s.emitFetchDone(current, r.Response, res.Outcome.Name(), res.Action.String())

	if res.Action == redirect.Fail {
		s.counters.abandoned.Add(1)
		return res, false
	}
	s.counters.redirected.Add(1)
	if res.Action != redirect.Follow {
		return res, false
	}
	if ctx.Err() != nil {
		// The hop target was claimed by this worker; hand it back.
		s.release(ctx, []frontier.Entry{res.Target}, s.clock.Now())
		return res, false
	}
	return res, true
}

func (s *Scheduler) failed(ctx context.Context, logger *zap.Logger, entry frontier.Entry, fe *crawler.FetchError) {
	failure := s.deps.Retry.Failure(entry.Attempts, fe)
	drainCtx, cancel := s.drainContext(ctx)
	defer cancel()
	s.complete(drainCtx, logger, entry, failure)
	if failure.Retry {
		s.counters.retried.Add(1)
		metrics.ObserveRetry(failure.Kind)
	} else {
		s.counters.abandoned.Add(1)
	}
	s.emitFetchDone(entry, crawler.FetchResponse{URL: entry.URL, StatusCode: fe.Status}, failure.Name(), fe.Error())
}

func (s *Scheduler) complete(ctx context.Context, logger *zap.Logger, entry frontier.Entry, outcome frontier.Outcome) {
	err := s.deps.Store.Complete(ctx, entry.Claim(), outcome)
	switch {
	case err == nil:
	case errors.Is(err, frontier.ErrInvalidTransition):
		// The claim went stale and was reclaimed elsewhere.
		logger.Warn("claim lost before completion",
			zap.Int64("entry_id", entry.ID), zap.String("url", entry.URL), zap.Error(err))
	default:
		logger.Error("complete entry failed",
			zap.Int64("entry_id", entry.ID), zap.String("url", entry.URL), zap.Error(err))
	}
}

func (s *Scheduler) emitFetchDone(entry frontier.Entry, resp crawler.FetchResponse, outcome, note string) {
	class := progress.ClassifyStatus(resp.StatusCode)
	visits := int64(0)
	if resp.StatusCode > 0 {
		visits = 1
	}
	s.emitter.Emit(progress.Event{
		SessionID:   s.sessionB,
		TS:          s.clock.Now(),
		Stage:       progress.StageFetchDone,
		Host:        entry.Host,
		URL:         entry.URL,
		Outcome:     outcome,
		Bytes:       int64(len(resp.Body)),
		Visits:      visits,
		StatusClass: class,
		Dur:         resp.Duration,
		Note:        note,
	})
	backend := "http"
	if resp.UsedHeadless {
		backend = "headless"
	}
	metrics.ObserveFetch(entry.Host, outcome, backend, len(resp.Body), resp.Duration)
}
