package scheduler

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/policy/breaker"
	"github.com/JakeFAU/frontier-crawler/internal/policy/pacer"
	"github.com/JakeFAU/frontier-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/frontier-crawler/internal/policy/scope"
	"github.com/JakeFAU/frontier-crawler/internal/progress"
	"github.com/JakeFAU/frontier-crawler/internal/retry"
	"github.com/JakeFAU/frontier-crawler/internal/urlnorm"
)

// Config controls the worker pool and session limits.
type Config struct {
	Concurrency int
	// BatchSize is how many entries a worker claims at once.
	BatchSize int
	// MaxPages stops the session after this many Fetched outcomes; 0 is unlimited.
	MaxPages int
	// Timeout bounds a single fetch attempt.
	Timeout time.Duration
	// PollInterval is the wait when nothing is eligible but the frontier is
	// not exhausted.
	PollInterval    time.Duration
	ClaimTTL        time.Duration
	ReclaimInterval time.Duration
	// DrainTimeout bounds the store writes made after cancellation.
	DrainTimeout  time.Duration
	StatsInterval time.Duration
	MaxRedirects  int
	// RetryStatuses are HTTP statuses treated as transient failures.
	RetryStatuses   []int
	RespectNofollow bool
	Sitemaps        bool
	Weights         frontier.Weights
	ArchivePrefix   string
	EventTopic      string
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 15 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 10
	}
	if c.Weights == (frontier.Weights{}) {
		c.Weights = frontier.DefaultWeights()
	}
	return c
}

// Deps are the collaborators the scheduler drives. Robots, Sitemaps, Limiter,
// Breaker, Blobs, Publisher and Progress are optional.
type Deps struct {
	Store      frontier.Store
	Normalizer *urlnorm.Normalizer
	Classifier *urlnorm.Classifier
	Scope      *scope.Policy
	Fetcher    crawler.Fetcher
	Extractor  crawler.LinkExtractor
	Retry      *retry.Policy
	Pacer      *pacer.Pacer

	Robots    crawler.RobotsGate
	Sitemaps  crawler.SitemapSource
	Limiter   *ratelimit.Limiter
	Breaker   *breaker.Breaker
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Progress  progress.Emitter
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Logger    *zap.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("scheduler: frontier store is required")
	case d.Normalizer == nil:
		return errors.New("scheduler: normalizer is required")
	case d.Classifier == nil:
		return errors.New("scheduler: classifier is required")
	case d.Scope == nil:
		return errors.New("scheduler: scope policy is required")
	case d.Fetcher == nil:
		return errors.New("scheduler: fetcher is required")
	case d.Extractor == nil:
		return errors.New("scheduler: link extractor is required")
	case d.Retry == nil:
		return errors.New("scheduler: retry policy is required")
	case d.Pacer == nil:
		return errors.New("scheduler: pacer is required")
	case d.IDs == nil:
		return errors.New("scheduler: id generator is required")
	}
	return nil
}
