package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/config"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/frontier-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/frontier-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/frontier-crawler/internal/fetcher/hybrid"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	memfrontier "github.com/JakeFAU/frontier-crawler/internal/frontier/memory"
	"github.com/JakeFAU/frontier-crawler/internal/hash/sha256"
	"github.com/JakeFAU/frontier-crawler/internal/hash/xxhash"
	"github.com/JakeFAU/frontier-crawler/internal/headless/detector"
	"github.com/JakeFAU/frontier-crawler/internal/id/uuid"
	"github.com/JakeFAU/frontier-crawler/internal/policy/breaker"
	"github.com/JakeFAU/frontier-crawler/internal/policy/pacer"
	"github.com/JakeFAU/frontier-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/frontier-crawler/internal/policy/scope"
	"github.com/JakeFAU/frontier-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/frontier-crawler/internal/progress/sinks"
	kafkapublisher "github.com/JakeFAU/frontier-crawler/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/frontier-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/frontier-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/frontier-crawler/internal/retry"
	"github.com/JakeFAU/frontier-crawler/internal/robots"
	"github.com/JakeFAU/frontier-crawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/frontier-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/frontier-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/frontier-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/frontier-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/frontier-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/frontier-crawler/internal/store"
	"github.com/JakeFAU/frontier-crawler/internal/urlnorm"
)

const memoryPublisherLimit = 10000

// OpenFrontier opens the configured frontier backend. The caller owns Close.
func OpenFrontier(ctx context.Context, cfg config.Config, clock crawler.Clock, logger *zap.Logger) (frontier.Store, error) {
	opts := frontier.Options{
		MaxDepth:        cfg.Crawler.MaxDepth,
		ReviveAbandoned: cfg.Frontier.ReviveAbandoned,
		Weights:         weights(cfg),
	}
	switch cfg.Frontier.Backend {
	case config.BackendMemory:
		return memfrontier.NewStore(opts, clock), nil
	case config.BackendSQLite:
		st, err := sqlitestore.NewFrontierStore(sqlitestore.Config{
			Path:    cfg.Database.SQLitePath,
			Options: opts,
			Clock:   clock,
			Logger:  logger.Named("sqlite"),
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite frontier init failed: %w", err)
		}
		return st, nil
	case config.BackendPostgres:
		st, err := pgstore.NewFrontierStore(ctx, poolConfig(cfg), opts, clock)
		if err != nil {
			return nil, fmt.Errorf("postgres frontier init failed: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("frontier backend %q is not supported", cfg.Frontier.Backend)
	}
}

func (a *App) setupFrontier(ctx context.Context) (frontier.Store, error) {
	st, err := OpenFrontier(ctx, a.cfg, a.clock, a.logger)
	if err != nil {
		return nil, err
	}
	a.onClose("frontier", st.Close)
	a.logger.Info("frontier opened", zap.String("backend", a.cfg.Frontier.Backend))
	return st, nil
}

func (a *App) setupSessions(ctx context.Context) (store.SessionRepository, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Info("no database DSN, keeping session history in memory")
		return memorystorage.NewSessionStore(), nil
	}
	repo, err := pgstore.NewSessionStore(ctx, poolConfig(a.cfg))
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}
	a.onClose("session store", func() error { repo.Close(); return nil })
	return repo, nil
}

func (a *App) setupDeps(ctx context.Context) (scheduler.Deps, error) {
	cfg := a.cfg
	deps := scheduler.Deps{
		Store:      a.frontier,
		Normalizer: a.normalizer,
		Classifier: urlnorm.NewClassifier(),
		Extractor:  extract.New(),
		Hasher:     xxhash.New(),
		Clock:      a.clock,
		IDs:        uuid.New(),
		Logger:     a.logger.Named("scheduler"),
	}
	var err error
	if deps.Scope, err = scope.New(scope.Config{
		AllowOffsite:    cfg.Crawler.AllowOffsite,
		AllowedDomains:  cfg.Crawler.AllowedDomains,
		BlockedDomains:  cfg.Crawler.BlockedDomains,
		PathRestriction: cfg.Crawler.PathRestriction,
		PathExcludes:    cfg.Crawler.PathExcludes,
	}); err != nil {
		return deps, fmt.Errorf("scope policy init failed: %w", err)
	}
	if deps.Retry, err = retry.New(retry.Config{
		MaxRetries:    cfg.Retry.MaxRetries,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		Jitter:        cfg.Retry.Jitter,
		RetryAfterMax: cfg.Retry.RetryAfterMax,
	}); err != nil {
		return deps, fmt.Errorf("retry policy init failed: %w", err)
	}
	if deps.Pacer, err = pacer.New(pacer.Config{
		Delay:          cfg.Crawler.Delay,
		MaxDelay:       cfg.Crawler.MaxDelay,
		MaxInFlight:    cfg.Crawler.PerHostMaxInFlight,
		Adaptive:       cfg.Crawler.AdaptiveDelay,
		IncreaseFactor: cfg.Crawler.DelayIncreaseFactor,
		DecreaseFactor: cfg.Crawler.DelayDecreaseFactor,
	}); err != nil {
		return deps, fmt.Errorf("pacer init failed: %w", err)
	}
	if cfg.Crawler.MaxRPS > 0 {
		deps.Limiter = ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.MaxRPS, Burst: 1})
	}
	if cfg.Breaker.Enabled {
		deps.Breaker = breaker.New(cfg.Breaker.Threshold, cfg.Breaker.Recovery, a.clock)
	}

	gate, err := a.setupRobots(ctx)
	if err != nil {
		return deps, err
	}
	deps.Robots, deps.Sitemaps = gate, gate

	if deps.Fetcher, err = a.setupFetcher(); err != nil {
		return deps, err
	}
	if deps.Blobs, err = a.setupArchive(ctx); err != nil {
		return deps, err
	}
	if deps.Publisher, err = a.setupEvents(ctx); err != nil {
		return deps, err
	}
	if deps.Progress, err = a.setupProgress(ctx); err != nil {
		return deps, err
	}
	return deps, nil
}

func (a *App) setupRobots(ctx context.Context) (*robots.Gatekeeper, error) {
	var cache robots.Cache
	switch a.cfg.Robots.Cache {
	case "redis":
		rc, err := robots.NewRedisCache(ctx, robots.RedisConfig{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			Prefix:   a.cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("redis robots cache init failed: %w", err)
		}
		a.onClose("redis", rc.Close)
		a.logger.Info("using redis robots cache", zap.String("addr", a.cfg.Redis.Addr))
		cache = rc
	default:
		cache = robots.NewMemoryCache(a.clock)
	}
	return robots.New(robots.Config{
		UserAgent:   a.cfg.Crawler.UserAgent,
		Respect:     a.cfg.Crawler.RespectRobots,
		TTL:         a.cfg.Robots.TTL,
		Timeout:     a.cfg.Crawler.Timeout,
		MaxSitemaps: a.cfg.Robots.MaxSitemaps,
	}, a.httpClient, cache, a.clock, a.logger.Named("robots")), nil
}

func (a *App) setupFetcher() (crawler.Fetcher, error) {
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.Crawler.UserAgent,
		Timeout:      a.cfg.Crawler.Timeout,
		MaxBodyBytes: a.cfg.Crawler.MaxBodyBytes,
	})
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Crawler.UserAgent))

	var headless crawler.Fetcher
	if a.cfg.HTTP.Backend != hybrid.ModePlain {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavTimeout,
		})
		switch {
		case err == nil:
			a.onClose("headless", hf.Close)
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
			headless = hf
		case a.cfg.HTTP.Backend == hybrid.ModeAuto:
			// Promotions then fail and the plain response is kept.
			a.logger.Warn("headless fetcher init failed, auto mode stays plain", zap.Error(err))
			headless = headlessfetcher.NewNoop()
		default:
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
	}
	f, err := hybrid.New(a.cfg.HTTP.Backend, plain, headless,
		detector.NewHeuristic(a.cfg.Headless.PromotionThresh), a.logger.Named("fetcher"))
	if err != nil {
		return nil, fmt.Errorf("fetcher init failed: %w", err)
	}
	return f, nil
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case "gcs":
		blobs, client, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose("gcs", client.Close)
		a.logger.Info("archiving bodies to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving bodies locally", zap.String("path", a.cfg.Archive.BaseDir))
		return blobs, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupEvents(ctx context.Context) (crawler.Publisher, error) {
	ev := a.cfg.Events
	switch ev.Backend {
	case "pubsub":
		p, err := gcppublisher.New(ctx, gcppublisher.Config{ProjectID: ev.ProjectID, TopicID: ev.Topic})
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.onClose("pubsub", p.Close)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", ev.ProjectID),
			zap.String("topic", ev.Topic),
		)
		return p, nil
	case "kafka":
		p, err := kafkapublisher.New(kafkapublisher.Config{Brokers: ev.Brokers, Topic: ev.Topic})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.onClose("kafka", p.Close)
		a.logger.Info("kafka publisher initialized", zap.Strings("brokers", ev.Brokers), zap.String("topic", ev.Topic))
		return p, nil
	case config.BackendPostgres:
		p, err := pgstore.NewPageStore(ctx, poolConfig(a.cfg), ev.Table)
		if err != nil {
			return nil, fmt.Errorf("page store init failed: %w", err)
		}
		a.onClose("page store", func() error { p.Close(); return nil })
		return p, nil
	case "memory":
		return memorypublisher.New(memoryPublisherLimit), nil
	default:
		return nil, nil
	}
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	sinks := []progress.Sink{progresssinks.NewStoreSink(a.sessions, a.logger.Named("progress_store"))}
	if a.cfg.Progress.LogEnabled {
		sinks = append(sinks, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	prom, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinks = append(sinks, prom)

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatch,
		MaxBatchWait:   a.cfg.Progress.MaxWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinks...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinks)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.hub, nil
}

// NewNormalizer builds the URL normalizer the frontier keys are derived with.
func NewNormalizer(cfg config.Config) (*urlnorm.Normalizer, error) {
	n, err := urlnorm.New(urlnorm.Options{
		DropParams: cfg.Frontier.DropParams,
		SortQuery:  cfg.Frontier.SortQuery,
	}, sha256.New())
	if err != nil {
		return nil, fmt.Errorf("normalizer init failed: %w", err)
	}
	return n, nil
}

func schedulerConfig(cfg config.Config) scheduler.Config {
	return scheduler.Config{
		Concurrency:     cfg.Crawler.Concurrency,
		BatchSize:       cfg.Crawler.BatchSize,
		MaxPages:        cfg.Crawler.MaxPages,
		Timeout:         cfg.Crawler.Timeout,
		PollInterval:    cfg.Crawler.PollInterval,
		ClaimTTL:        cfg.Crawler.ClaimTTL,
		ReclaimInterval: cfg.Crawler.ReclaimInterval,
		DrainTimeout:    cfg.Crawler.DrainTimeout,
		StatsInterval:   cfg.Frontier.StatsInterval,
		MaxRedirects:    cfg.Redirect.MaxRedirects,
		RetryStatuses:   cfg.Retry.RetryStatuses,
		RespectNofollow: cfg.Crawler.RespectNofollow,
		Sitemaps:        cfg.Robots.Sitemaps,
		Weights:         weights(cfg),
		ArchivePrefix:   cfg.Archive.Prefix,
		EventTopic:      cfg.Events.Topic,
	}
}

func weights(cfg config.Config) frontier.Weights {
	return frontier.Weights{
		Depth:   cfg.Frontier.Weights.Depth,
		Sitemap: cfg.Frontier.Weights.Sitemap,
		Inlinks: cfg.Frontier.Weights.Inlinks,
	}
}

func poolConfig(cfg config.Config) pgstore.PoolConfig {
	return pgstore.PoolConfig{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}
}
