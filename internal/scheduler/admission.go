package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/JakeFAU/frontier-crawler/internal/urlnorm"
)

// Admission rejection reason used when robots.txt disallows a URL.
const reasonRobots = "robots"

// SeedResult reports what happened to one seed URL.
type SeedResult struct {
	URL   string `json:"url"`
	Key   string `json:"key,omitempty"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// gate lets the redirect resolver reuse the scheduler's admission rules.
type gate struct {
	s *Scheduler
}

func (g gate) Admit(ctx context.Context, target urlnorm.URL, _ int) (string, bool) {
	class, admitted, _ := g.s.admit(ctx, target, false)
	return class, admitted
}

// admit classifies u and applies scope and robots rules.
func (s *Scheduler) admit(ctx context.Context, u urlnorm.URL, fromHreflang bool) (string, bool, string) {
	s.classifyMu.RLock()
	class := s.deps.Classifier.Classify(u.Host, fromHreflang)
	s.classifyMu.RUnlock()

	decision := s.deps.Scope.Admit(u, class)
	if !decision.Admitted {
		return string(class), false, decision.Reason
	}
	if s.deps.Robots != nil && !s.deps.Robots.Allowed(ctx, u.Canonical) {
		return string(class), false, reasonRobots
	}
	return string(class), true, ""
}

// applyRobotsFloor sets the host's pacing floor from its Crawl-delay, once
// per host.
func (s *Scheduler) applyRobotsFloor(ctx context.Context, entry frontier.Entry) {
	if s.deps.Robots == nil {
		return
	}
	if _, seen := s.floors.LoadOrStore(entry.Host, struct{}{}); seen {
		return
	}
	if d := s.deps.Robots.CrawlDelay(ctx, entry.URL); d > 0 {
		s.deps.Pacer.SetFloor(entry.Host, d)
		s.logger.Debug("applied robots crawl delay", zap.String("host", entry.Host), zap.Duration("delay", d))
	}
}

// Seed enqueues root URLs at depth 0 and registers their hosts as roots.
// Seeds skip scope rules but still honor robots.txt. With sitemaps enabled,
// each seed's sitemap URLs are enqueued too. Invalid seeds are reported per
// result; only store failures return an error.
func (s *Scheduler) Seed(ctx context.Context, rawURLs []string) ([]SeedResult, error) {
	results := make([]SeedResult, 0, len(rawURLs))
	var roots []urlnorm.URL
	for _, raw := range rawURLs {
		res := SeedResult{URL: raw}
		u, err := s.deps.Normalizer.Normalize(raw, "")
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}
		s.classifyMu.Lock()
		s.deps.Classifier.AddRoot(u.Host)
		s.classifyMu.Unlock()

		admitted := s.deps.Robots == nil || s.deps.Robots.Allowed(ctx, u.Canonical)
		out, err := s.deps.Store.Enqueue(ctx, frontier.EnqueueRequest{
			Key:      u.Key,
			URL:      u.Canonical,
			Host:     u.Host,
			Class:    string(urlnorm.ClassInternal),
			Source:   frontier.SourceSeed,
			Score:    s.cfg.Weights.Score(0, 0, 0),
			Admitted: admitted,
		})
		if err != nil {
			return results, fmt.Errorf("enqueue seed %s: %w", u.Canonical, err)
		}
		metrics.ObserveEnqueue(string(frontier.SourceSeed), string(out.Entry.State))
		res.URL, res.Key, res.State = u.Canonical, u.Key, string(out.Entry.State)
		if !admitted {
			res.Error = "disallowed by robots.txt"
		}
		results = append(results, res)
		roots = append(roots, u)
	}

	if s.cfg.Sitemaps && s.deps.Sitemaps != nil {
		seen := make(map[string]struct{}, len(roots))
		for _, root := range roots {
			if _, ok := seen[root.Host]; ok {
				continue
			}
			seen[root.Host] = struct{}{}
			if err := s.seedSitemap(ctx, root); err != nil {
				return results, err
			}
		}
	}
	s.logger.Info("seeded frontier", zap.Int("seeds", len(rawURLs)), zap.Int("roots", len(roots)))
	return results, nil
}

func (s *Scheduler) seedSitemap(ctx context.Context, root urlnorm.URL) error {
	entries, err := s.deps.Sitemaps.SitemapEntries(ctx, root.Canonical)
	if err != nil {
		s.logger.Warn("sitemap discovery failed", zap.String("site", root.Canonical), zap.Error(err))
		return nil
	}
	queued := 0
	for _, se := range entries {
		u, err := s.deps.Normalizer.Normalize(se.Loc, root.Canonical)
		if err != nil {
			continue
		}
		class, admitted, _ := s.admit(ctx, u, false)
		out, err := s.deps.Store.Enqueue(ctx, frontier.EnqueueRequest{
			Key:             u.Key,
			URL:             u.Canonical,
			Host:            u.Host,
			Class:           class,
			Source:          frontier.SourceSitemap,
			SitemapPriority: se.Priority,
			Score:           s.cfg.Weights.Score(0, se.Priority, 0),
			Admitted:        admitted,
		})
		if err != nil {
			return fmt.Errorf("enqueue sitemap url %s: %w", u.Canonical, err)
		}
		metrics.ObserveEnqueue(string(frontier.SourceSitemap), string(out.Entry.State))
		if out.Entry.State == frontier.StateQueued {
			queued++
		}
	}
	s.logger.Info("sitemap urls enqueued",
		zap.String("site", root.Canonical),
		zap.Int("found", len(entries)),
		zap.Int("queued", queued),
	)
	return nil
}
