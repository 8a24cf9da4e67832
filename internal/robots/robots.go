// Package robots answers robots.txt questions and discovers sitemap entries.
// robots.txt bodies are cached per origin in a shared Cache. Parsed rules
// are also kept in process so hot hosts skip the cache round trip.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

const (
	maxRobotsBytes = 1 << 20
	defaultTTL     = 24 * time.Hour
)

// Config tunes the Gatekeeper.
type Config struct {
	UserAgent string
	// Respect disables every robots rule when false. Sitemaps are still read.
	Respect bool
	TTL     time.Duration
	Timeout time.Duration
	// MaxSitemaps bounds how many sitemap documents one discovery may fetch.
	MaxSitemaps int
}

type parsed struct {
	data    *robotstxt.RobotsData
	expires time.Time
}

// Gatekeeper implements crawler.RobotsGate and crawler.SitemapSource.
type Gatekeeper struct {
	cfg    Config
	client *http.Client
	cache  Cache
	clock  crawler.Clock
	logger *zap.Logger
	group  singleflight.Group

	mu     sync.Mutex
	parsed map[string]parsed
}

var (
	_ crawler.RobotsGate    = (*Gatekeeper)(nil)
	_ crawler.SitemapSource = (*Gatekeeper)(nil)
)

// New builds a Gatekeeper. A nil client gets one with cfg.Timeout and the
// robots retry transport; a nil cache keeps records in memory.
func New(cfg Config, client *http.Client, cache Cache, clock crawler.Clock, logger *zap.Logger) *Gatekeeper {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxSitemaps <= 0 {
		cfg.MaxSitemaps = 10
	}
	if clock == nil {
		clock = system.New()
	}
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newRetryTransport(nil),
		}
	}
	if cache == nil {
		cache = NewMemoryCache(clock)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gatekeeper{
		cfg:    cfg,
		client: client,
		cache:  cache,
		clock:  clock,
		logger: logger,
		parsed: make(map[string]parsed),
	}
}

func origin(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// Allowed reports whether the configured user agent may fetch rawURL.
// Unreachable robots.txt files allow everything.
func (g *Gatekeeper) Allowed(ctx context.Context, rawURL string) bool {
	if !g.cfg.Respect {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	data, err := g.load(ctx, origin(u))
	if err != nil {
		g.logger.Warn("robots fetch failed; allowing access", zap.String("host", u.Host), zap.Error(err))
		return true
	}
	return data.TestAgent(u.RequestURI(), g.cfg.UserAgent)
}

// CrawlDelay returns the Crawl-delay for the user agent on the origin of
// rawURL, or zero.
func (g *Gatekeeper) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	if !g.cfg.Respect {
		return 0
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0
	}
	data, err := g.load(ctx, origin(u))
	if err != nil {
		return 0
	}
	return data.FindGroup(g.cfg.UserAgent).CrawlDelay
}

// Sitemaps lists the Sitemap: lines of the origin's robots.txt.
func (g *Gatekeeper) Sitemaps(ctx context.Context, originURL string) []string {
	u, err := url.Parse(originURL)
	if err != nil || u.Host == "" {
		return nil
	}
	data, err := g.load(ctx, origin(u))
	if err != nil {
		return nil
	}
	return data.Sitemaps
}

func (g *Gatekeeper) load(ctx context.Context, key string) (*robotstxt.RobotsData, error) {
	now := g.clock.Now()
	g.mu.Lock()
	if p, ok := g.parsed[key]; ok && now.Before(p.expires) {
		g.mu.Unlock()
		return p.data, nil
	}
	g.mu.Unlock()

	v, err, _ := g.group.Do(key, func() (any, error) {
		rec, err := g.record(ctx, key)
		if err != nil {
			return nil, err
		}
		data, err := robotstxt.FromStatusAndBytes(rec.Status, rec.Body)
		if err != nil {
			return nil, fmt.Errorf("parse robots: %w", err)
		}
		g.mu.Lock()
		g.parsed[key] = parsed{data: data, expires: rec.FetchedAt.Add(g.cfg.TTL)}
		g.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	data, ok := v.(*robotstxt.RobotsData)
	if !ok {
		return nil, fmt.Errorf("robots cache type mismatch: %T", v)
	}
	return data, nil
}

func (g *Gatekeeper) record(ctx context.Context, key string) (Record, error) {
	rec, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("robots cache read failed", zap.String("origin", key), zap.Error(err))
	}
	if ok {
		return rec, nil
	}
	rec, err = g.fetch(ctx, key+"/robots.txt")
	if err != nil {
		return Record{}, err
	}
	if err := g.cache.Set(ctx, key, rec, g.cfg.TTL); err != nil {
		g.logger.Warn("robots cache write failed", zap.String("origin", key), zap.Error(err))
	}
	return rec, nil
}

func (g *Gatekeeper) fetch(ctx context.Context, robotsURL string) (Record, error) {
	body, status, err := g.get(ctx, robotsURL, maxRobotsBytes)
	if err != nil {
		return Record{}, fmt.Errorf("fetch robots: %w", err)
	}
	// Anything the parser does not understand, such as an unfollowed 3xx,
	// counts as a missing file.
	if status < 200 || (status >= 300 && status < 400) || status >= 600 {
		status = http.StatusNotFound
	}
	return Record{Status: status, Body: body, FetchedAt: g.clock.Now()}, nil
}

func (g *Gatekeeper) get(ctx context.Context, rawURL string, limit int64) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	if g.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", g.cfg.UserAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close response body", zap.String("url", rawURL), zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
