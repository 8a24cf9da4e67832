// Package app is the composition root: it turns a config.Config into a wired
// frontier, scheduler and HTTP server and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/api"
	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/config"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/logging"
	"github.com/JakeFAU/frontier-crawler/internal/progress"
	"github.com/JakeFAU/frontier-crawler/internal/scheduler"
	"github.com/JakeFAU/frontier-crawler/internal/store"
	"github.com/JakeFAU/frontier-crawler/internal/urlnorm"
)

const shutdownTimeout = 10 * time.Second

type closer struct {
	name string
	fn   func() error
}

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	ownLogger  bool
	clock      crawler.Clock
	registerer prometheus.Registerer
	httpClient *http.Client

	frontier   frontier.Store
	normalizer *urlnorm.Normalizer
	sessions   store.SessionRepository
	hub        *progress.Hub
	scheduler  *scheduler.Scheduler
	server     *api.Server

	closers []closer
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer sets where the progress Prometheus sink registers its
// collectors (default prometheus.DefaultRegisterer).
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// WithHTTPClient sets the client used for robots.txt and sitemap requests.
func WithHTTPClient(client *http.Client) Option {
	return func(a *App) { a.httpClient = client }
}

// Build creates the application's dependencies. On error everything opened
// so far is closed again.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, clock: system.New(), registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		a.logger, a.ownLogger = logger, true
	}
	a.logger.Info("building application dependencies",
		zap.String("frontier_backend", cfg.Frontier.Backend),
		zap.String("http_backend", cfg.HTTP.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.String("events_backend", cfg.Events.Backend),
		zap.Bool("server_enabled", cfg.Server.Enabled),
	)
	if err := a.build(ctx); err != nil {
		a.closeInfrastructure(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	if a.frontier, err = a.setupFrontier(ctx); err != nil {
		return err
	}
	if a.normalizer, err = NewNormalizer(a.cfg); err != nil {
		return err
	}
	if a.sessions, err = a.setupSessions(ctx); err != nil {
		return err
	}
	deps, err := a.setupDeps(ctx)
	if err != nil {
		return err
	}
	if a.scheduler, err = scheduler.New(schedulerConfig(a.cfg), deps); err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	a.server = api.NewServer(api.Options{
		Frontier:   a.frontier,
		Normalizer: a.normalizer,
		Seeder:     a.scheduler,
		State:      a.scheduler,
		Sessions:   a.sessions,
		APIKey:     a.cfg.Server.APIKey,
		Logger:     a.logger.Named("api"),
	})
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Frontier returns the frontier store.
func (a *App) Frontier() frontier.Store { return a.frontier }

// Scheduler returns the session scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Handler returns the HTTP control surface.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Close flushes the progress hub and closes every backend in reverse order of
// construction.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	if a.ownLogger {
		// Sync on stderr/stdout fails on some platforms; it is not actionable.
		_ = a.logger.Sync()
	}
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.hub = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Crawl runs one session: it optionally resets the frontier, enqueues the
// configured seeds, serves the HTTP surface when enabled, and returns once
// the session ends.
func (a *App) Crawl(ctx context.Context) (scheduler.Summary, error) {
	if a.cfg.Crawler.ResetFrontier {
		if err := a.frontier.Reset(ctx); err != nil {
			return scheduler.Summary{}, fmt.Errorf("reset frontier: %w", err)
		}
		a.logger.Info("frontier reset")
	}
	if err := a.seed(ctx, a.cfg.Crawler.Seeds); err != nil {
		return scheduler.Summary{}, err
	}
	stopServer := a.startServer(ctx, func() {})
	defer stopServer()

	summary, err := a.scheduler.Run(ctx)
	if err != nil {
		return summary, fmt.Errorf("run crawl session: %w", err)
	}
	return summary, nil
}

// Serve runs the HTTP surface until ctx ends and starts a session whenever
// the frontier holds work, so seeds posted to the API get crawled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.seed(ctx, a.cfg.Crawler.Seeds); err != nil {
		return err
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	stopServer := a.startServer(ctx, stop)
	defer stopServer()

	idle := a.cfg.Crawler.PollInterval
	if idle <= 0 {
		idle = time.Second
	}
	for ctx.Err() == nil {
		exhausted, err := a.frontier.IsExhausted(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				a.logger.Warn("frontier check failed", zap.Error(err))
			}
		case !exhausted:
			_, err := a.scheduler.Run(ctx)
			if err == nil {
				continue
			}
			a.logger.Error("crawl session failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
		case <-time.After(idle):
		}
	}
	return nil
}

func (a *App) seed(ctx context.Context, seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}
	results, err := a.scheduler.Seed(ctx, seeds)
	if err != nil {
		return fmt.Errorf("seed frontier: %w", err)
	}
	for _, r := range results {
		if r.Error != "" {
			a.logger.Warn("seed rejected", zap.String("url", r.URL), zap.String("error", r.Error))
			continue
		}
		a.logger.Info("seed enqueued", zap.String("url", r.URL), zap.String("state", r.State))
	}
	return nil
}

// startServer launches the HTTP server when enabled and returns a function
// that shuts it down. onFail is called if the listener dies.
func (a *App) startServer(ctx context.Context, onFail func()) func() {
	if !a.cfg.Server.Enabled {
		return func() {}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			onFail()
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
}
