package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
)

// fetched handles a final response. Links are enqueued before the entry is
// completed so the frontier never looks exhausted while work remains.
func (s *Scheduler) fetched(ctx context.Context, logger *zap.Logger, entry frontier.Entry, resp crawler.FetchResponse) {
	drainCtx, cancel := s.drainContext(ctx)
	defer cancel()

	contentHash, err := s.hasher.Hash(resp.Body)
	if err != nil {
		logger.Warn("hash body failed", zap.String("url", entry.URL), zap.Error(err))
	}

	outLinks := 0
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outLinks = s.discover(drainCtx, logger, entry, resp)
	}

	s.complete(drainCtx, logger, entry, frontier.Fetched{Status: resp.StatusCode, ContentHash: contentHash})
	s.counters.fetched.Add(1)

	blobURI := s.archive(drainCtx, logger, entry, resp)
	s.publish(drainCtx, logger, crawler.PageEvent{
		SessionID:    s.SessionID(),
		URL:          entry.URL,
		Key:          entry.Key,
		StatusCode:   resp.StatusCode,
		ContentType:  resp.ContentType(),
		ContentHash:  contentHash,
		Bytes:        len(resp.Body),
		Depth:        entry.Depth,
		OutLinks:     outLinks,
		UsedHeadless: resp.UsedHeadless,
		DurationMs:   resp.Duration.Milliseconds(),
		BlobURI:      blobURI,
		FetchedAt:    s.clock.Now().UTC(),
	})
	s.emitFetchDone(entry, resp, frontier.OutcomeFetched, "")
}

// discover extracts links from a page, enqueues them one level deeper and
// records the link graph. It returns the number of distinct targets.
func (s *Scheduler) discover(ctx context.Context, logger *zap.Logger, entry frontier.Entry, resp crawler.FetchResponse) int {
	page, err := s.deps.Extractor.Extract(resp.URL, resp.ContentType(), resp.Body)
	if err != nil {
		logger.Debug("link extraction failed", zap.String("url", entry.URL), zap.Error(err))
		return 0
	}
	base := page.Base
	if base == "" {
		base = entry.URL
	}
	depth := entry.Depth + 1
	score := s.cfg.Weights.Score(depth, 0, 1)

	seen := make(map[string]struct{}, len(page.Links))
	keys := make([]string, 0, len(page.Links))
	for _, link := range page.Links {
		if link.Nofollow && s.cfg.RespectNofollow {
			continue
		}
		u, err := s.deps.Normalizer.Normalize(link.Href, base)
		if err != nil {
			continue
		}
		if _, dup := seen[u.Key]; dup || u.Key == entry.Key {
			continue
		}
		seen[u.Key] = struct{}{}

		class, admitted, reason := s.admit(ctx, u, link.Hreflang != "")
		out, err := s.deps.Store.Enqueue(ctx, frontier.EnqueueRequest{
			Key:      u.Key,
			URL:      u.Canonical,
			Host:     u.Host,
			Class:    class,
			Source:   frontier.SourceLink,
			Depth:    depth,
			Score:    score,
			Admitted: admitted,
		})
		if err != nil {
			logger.Error("enqueue link failed", zap.String("url", u.Canonical), zap.Error(err))
			continue
		}
		if reason != "" && out.Created {
			logger.Debug("link not admitted", zap.String("url", u.Canonical), zap.String("reason", reason))
		}
		metrics.ObserveEnqueue(string(frontier.SourceLink), string(out.Entry.State))
		keys = append(keys, u.Key)
	}
	if len(keys) > 0 {
		if err := s.deps.Store.RecordLinks(ctx, entry.Key, keys); err != nil {
			logger.Warn("record links failed", zap.String("url", entry.URL), zap.Error(err))
		}
	}
	return len(keys)
}

func (s *Scheduler) archive(ctx context.Context, logger *zap.Logger, entry frontier.Entry, resp crawler.FetchResponse) string {
	if s.deps.Blobs == nil || len(resp.Body) == 0 {
		return ""
	}
	path := crawler.ArchivePath(s.cfg.ArchivePrefix, s.SessionID(), entry.Key, resp.ContentType())
	uri, err := s.deps.Blobs.PutObject(ctx, path, resp.ContentType(), resp.Body)
	if err != nil {
		logger.Warn("archive body failed", zap.String("url", entry.URL), zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Scheduler) publish(ctx context.Context, logger *zap.Logger, evt crawler.PageEvent) {
	if s.deps.Publisher == nil {
		return
	}
	start := time.Now()
	id, err := s.deps.Publisher.Publish(ctx, s.cfg.EventTopic, evt)
	if err != nil {
		logger.Warn("publish page event failed", zap.String("url", evt.URL), zap.Error(err))
		return
	}
	logger.Debug("page event published",
		zap.String("message_id", id),
		zap.Duration("elapsed", time.Since(start)),
	)
}
