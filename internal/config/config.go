// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Frontier backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Frontier FrontierConfig `mapstructure:"frontier"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Redirect RedirectConfig `mapstructure:"redirect"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Robots   RobotsConfig   `mapstructure:"robots"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Events   EventsConfig   `mapstructure:"events"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the optional HTTP control surface.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the scheduler and crawl scope.
type CrawlerConfig struct {
	Seeds               []string      `mapstructure:"seeds"`
	Concurrency         int           `mapstructure:"concurrency"`
	BatchSize           int           `mapstructure:"batch_size"`
	MaxPages            int           `mapstructure:"max_pages"`
	MaxDepth            int           `mapstructure:"max_depth"`
	UserAgent           string        `mapstructure:"user_agent"`
	Delay               time.Duration `mapstructure:"delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
	AdaptiveDelay       bool          `mapstructure:"adaptive_delay"`
	DelayIncreaseFactor float64       `mapstructure:"delay_increase_factor"`
	DelayDecreaseFactor float64       `mapstructure:"delay_decrease_factor"`
	PerHostMaxInFlight  int           `mapstructure:"per_host_max_inflight"`
	MaxRPS              float64       `mapstructure:"max_rps"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxBodyBytes        int64         `mapstructure:"max_body_bytes"`
	AllowOffsite        bool          `mapstructure:"allow_offsite"`
	AllowedDomains      []string      `mapstructure:"allowed_domains"`
	BlockedDomains      []string      `mapstructure:"blocked_domains"`
	PathRestriction     string        `mapstructure:"path_restriction"`
	PathExcludes        []string      `mapstructure:"path_excludes"`
	RespectRobots       bool          `mapstructure:"respect_robots"`
	RespectNofollow     bool          `mapstructure:"respect_nofollow"`
	ResetFrontier       bool          `mapstructure:"reset_frontier"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ClaimTTL            time.Duration `mapstructure:"claim_ttl"`
	ReclaimInterval     time.Duration `mapstructure:"reclaim_interval"`
	DrainTimeout        time.Duration `mapstructure:"drain_timeout"`
}

// FrontierConfig selects the frontier backend and its merge behavior.
type FrontierConfig struct {
	Backend         string        `mapstructure:"backend"`
	ReviveAbandoned bool          `mapstructure:"revive_abandoned"`
	SortQuery       bool          `mapstructure:"sort_query"`
	DropParams      []string      `mapstructure:"drop_params"`
	Weights         WeightsConfig `mapstructure:"weights"`
	StatsInterval   time.Duration `mapstructure:"stats_interval"`
}

// WeightsConfig are the score formula coefficients.
type WeightsConfig struct {
	Depth   float64 `mapstructure:"depth"`
	Sitemap float64 `mapstructure:"sitemap"`
	Inlinks float64 `mapstructure:"inlinks"`
}

// RetryConfig drives the backoff policy.
type RetryConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	Jitter        float64       `mapstructure:"jitter"`
	RetryAfterMax time.Duration `mapstructure:"retry_after_max"`
	RetryStatuses []int         `mapstructure:"retry_statuses"`
}

// RedirectConfig bounds redirect chains.
type RedirectConfig struct {
	MaxRedirects int `mapstructure:"max_redirects"`
}

// BreakerConfig configures the per-host circuit breaker.
type BreakerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold int           `mapstructure:"threshold"`
	Recovery  time.Duration `mapstructure:"recovery"`
}

// HTTPConfig selects the fetch backend.
type HTTPConfig struct {
	Backend string `mapstructure:"backend"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	MaxParallel     int           `mapstructure:"max_parallel"`
	NavTimeout      time.Duration `mapstructure:"nav_timeout"`
	PromotionThresh int           `mapstructure:"promotion_threshold"`
}

// RobotsConfig controls robots.txt and sitemap handling.
type RobotsConfig struct {
	Cache       string        `mapstructure:"cache"`
	TTL         time.Duration `mapstructure:"ttl"`
	Sitemaps    bool          `mapstructure:"sitemaps"`
	MaxSitemaps int           `mapstructure:"max_sitemaps"`
}

// RedisConfig locates the shared robots cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// DatabaseConfig controls access to the relational stores.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig sets where fetched bodies are persisted.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// EventsConfig selects the page event publisher.
type EventsConfig struct {
	Backend   string   `mapstructure:"backend"`
	ProjectID string   `mapstructure:"project_id"`
	Topic     string   `mapstructure:"topic"`
	Brokers   []string `mapstructure:"brokers"`
	Table     string   `mapstructure:"table"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	LogEnabled  bool          `mapstructure:"log_enabled"`
	BufferSize  int           `mapstructure:"buffer_size"`
	MaxBatch    int           `mapstructure:"max_batch"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultDropParams lists tracking parameters removed during normalization.
var DefaultDropParams = []string{
	"utm_*", "gclid", "fbclid", "msclkid", "mc_cid", "mc_eid", "_ga", "yclid",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)

	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.batch_size", 1)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.user_agent", "frontier-crawler/0.1")
	v.SetDefault("crawler.delay", 200*time.Millisecond)
	v.SetDefault("crawler.max_delay", 10*time.Second)
	v.SetDefault("crawler.adaptive_delay", true)
	v.SetDefault("crawler.delay_increase_factor", 1.5)
	v.SetDefault("crawler.delay_decrease_factor", 0.9)
	v.SetDefault("crawler.per_host_max_inflight", 1)
	v.SetDefault("crawler.max_rps", 0)
	v.SetDefault("crawler.timeout", 20*time.Second)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.allow_offsite", false)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.respect_nofollow", true)
	v.SetDefault("crawler.poll_interval", 250*time.Millisecond)
	v.SetDefault("crawler.claim_ttl", 5*time.Minute)
	v.SetDefault("crawler.reclaim_interval", 30*time.Second)
	v.SetDefault("crawler.drain_timeout", 30*time.Second)

	v.SetDefault("frontier.backend", BackendSQLite)
	v.SetDefault("frontier.revive_abandoned", false)
	v.SetDefault("frontier.sort_query", false)
	v.SetDefault("frontier.drop_params", DefaultDropParams)
	v.SetDefault("frontier.weights.depth", 1.0)
	v.SetDefault("frontier.weights.sitemap", 1.0)
	v.SetDefault("frontier.weights.inlinks", 0.25)
	v.SetDefault("frontier.stats_interval", 15*time.Second)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", time.Minute)
	v.SetDefault("retry.jitter", 0.1)
	v.SetDefault("retry.retry_after_max", 10*time.Minute)
	v.SetDefault("retry.retry_statuses", []int{429, 500, 502, 503, 504})

	v.SetDefault("redirect.max_redirects", 10)

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.recovery", time.Minute)

	v.SetDefault("http.backend", "colly")

	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", 45*time.Second)
	v.SetDefault("headless.promotion_threshold", 60)

	v.SetDefault("robots.cache", BackendMemory)
	v.SetDefault("robots.ttl", 24*time.Hour)
	v.SetDefault("robots.sitemaps", true)
	v.SetDefault("robots.max_sitemaps", 50)

	v.SetDefault("redis.prefix", "robots:")

	v.SetDefault("database.sqlite_path", "frontier.db")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)

	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("events.backend", "none")
	v.SetDefault("events.topic", "crawl-pages")
	v.SetDefault("events.table", "crawl_pages")

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch", 512)
	v.SetDefault("progress.max_wait", 500*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 3*time.Second)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	// -1 lifts the depth bound.
	if c.Crawler.MaxDepth < -1 {
		return fmt.Errorf("crawler.max_depth must be >= -1")
	}
	if c.Crawler.Delay < 0 || c.Crawler.MaxDelay < c.Crawler.Delay {
		return fmt.Errorf("crawler.delay must be >= 0 and <= crawler.max_delay")
	}
	if c.Crawler.PerHostMaxInFlight <= 0 {
		return fmt.Errorf("crawler.per_host_max_inflight must be > 0")
	}
	if c.Crawler.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	if c.Crawler.ClaimTTL <= 0 {
		return fmt.Errorf("crawler.claim_ttl must be > 0")
	}
	switch c.Frontier.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres frontier")
		}
	default:
		return fmt.Errorf("frontier.backend %q is not supported", c.Frontier.Backend)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.base_delay must be > 0 and <= retry.max_delay")
	}
	// Larger jitter lets a later attempt draw a shorter delay than an earlier one.
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1.0/3.0 {
		return fmt.Errorf("retry.jitter must be within [0, 0.333]")
	}
	if c.Redirect.MaxRedirects < 1 {
		return fmt.Errorf("redirect.max_redirects must be >= 1")
	}
	if c.Breaker.Enabled && (c.Breaker.Threshold <= 0 || c.Breaker.Recovery <= 0) {
		return fmt.Errorf("breaker.threshold and breaker.recovery must be > 0 when enabled")
	}
	switch c.HTTP.Backend {
	case "colly", "headless", "auto":
	default:
		return fmt.Errorf("http.backend %q is not supported", c.HTTP.Backend)
	}
	if c.HTTP.Backend != "colly" && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Robots.Cache {
	case BackendMemory:
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set for the redis robots cache")
		}
	default:
		return fmt.Errorf("robots.cache %q is not supported", c.Robots.Cache)
	}
	switch c.Archive.Backend {
	case "none", "memory", "local":
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	switch c.Events.Backend {
	case "none", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set for pubsub")
		}
	case "kafka":
		if len(c.Events.Brokers) == 0 || c.Events.Topic == "" {
			return fmt.Errorf("events.brokers and events.topic must be set for kafka")
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for postgres events")
		}
	default:
		return fmt.Errorf("events.backend %q is not supported", c.Events.Backend)
	}
	return nil
}
