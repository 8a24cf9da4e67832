package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  enabled: true
  port: 9090
  api_key: secret
crawler:
  seeds: ["https://example.com/"]
  concurrency: 10
  max_pages: 50
  max_depth: 2
  delay: 500ms
  timeout: 5s
  allow_offsite: true
  path_excludes: ["/private/*"]
frontier:
  backend: memory
  revive_abandoned: true
  weights:
    depth: 2
    sitemap: 0.5
    inlinks: 0
retry:
  max_retries: 5
  base_delay: 2s
  max_delay: 30s
  retry_statuses: [429, 503]
redirect:
  max_redirects: 4
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || !cfg.Server.Enabled || cfg.Server.APIKey != "secret" {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if cfg.Crawler.Concurrency != 10 || cfg.Crawler.MaxPages != 50 || cfg.Crawler.MaxDepth != 2 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Crawler.Delay != 500*time.Millisecond || cfg.Crawler.Timeout != 5*time.Second {
		t.Fatalf("expected duration overrides, got delay=%v timeout=%v", cfg.Crawler.Delay, cfg.Crawler.Timeout)
	}
	if len(cfg.Crawler.Seeds) != 1 || cfg.Crawler.Seeds[0] != "https://example.com/" {
		t.Fatalf("expected seeds to load: %v", cfg.Crawler.Seeds)
	}
	if cfg.Frontier.Backend != BackendMemory || !cfg.Frontier.ReviveAbandoned {
		t.Fatalf("expected frontier overrides: %+v", cfg.Frontier)
	}
	if cfg.Frontier.Weights.Depth != 2 || cfg.Frontier.Weights.Sitemap != 0.5 {
		t.Fatalf("expected weight overrides: %+v", cfg.Frontier.Weights)
	}
	if cfg.Retry.MaxRetries != 5 || cfg.Retry.BaseDelay != 2*time.Second || len(cfg.Retry.RetryStatuses) != 2 {
		t.Fatalf("expected retry overrides: %+v", cfg.Retry)
	}
	if cfg.Redirect.MaxRedirects != 4 {
		t.Fatalf("expected max redirects 4, got %d", cfg.Redirect.MaxRedirects)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
	if cfg.Breaker.Threshold != 5 {
		t.Fatalf("expected default breaker threshold, got %d", cfg.Breaker.Threshold)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 5 || cfg.Crawler.MaxDepth != 3 || cfg.Crawler.MaxPages != 0 {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Crawler.Delay != 200*time.Millisecond || cfg.Crawler.Timeout != 20*time.Second {
		t.Fatalf("unexpected timing defaults: delay=%v timeout=%v", cfg.Crawler.Delay, cfg.Crawler.Timeout)
	}
	if cfg.Frontier.Backend != BackendSQLite {
		t.Fatalf("expected sqlite frontier by default, got %q", cfg.Frontier.Backend)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Redirect.MaxRedirects != 10 {
		t.Fatalf("unexpected retry/redirect defaults: %+v %+v", cfg.Retry, cfg.Redirect)
	}
	if len(cfg.Frontier.DropParams) == 0 {
		t.Fatal("expected default tracking params")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func validConfig() Config {
	return Config{
		Crawler: CrawlerConfig{
			Concurrency:        1,
			BatchSize:          1,
			Delay:              time.Millisecond,
			MaxDelay:           time.Second,
			PerHostMaxInFlight: 1,
			Timeout:            time.Second,
			ClaimTTL:           time.Minute,
		},
		Frontier: FrontierConfig{Backend: BackendMemory},
		Retry:    RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.1},
		Redirect: RedirectConfig{MaxRedirects: 10},
		HTTP:     HTTPConfig{Backend: "colly"},
		Robots:   RobotsConfig{Cache: BackendMemory},
		Archive:  ArchiveConfig{Backend: "none"},
		Events:   EventsConfig{Backend: "none"},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Enabled = true }, want: "server.port"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "negative max pages", mutate: func(c *Config) { c.Crawler.MaxPages = -1 }, want: "crawler.max_pages"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Crawler.Timeout = 0 }, want: "crawler.timeout"},
		{name: "unknown frontier", mutate: func(c *Config) { c.Frontier.Backend = "etcd" }, want: "frontier.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Frontier.Backend = BackendPostgres }, want: "database.dsn"},
		{name: "jitter too wide", mutate: func(c *Config) { c.Retry.Jitter = 0.5 }, want: "retry.jitter"},
		{name: "no redirects", mutate: func(c *Config) { c.Redirect.MaxRedirects = 0 }, want: "redirect.max_redirects"},
		{name: "headless without workers", mutate: func(c *Config) { c.HTTP.Backend = "auto" }, want: "headless.max_parallel"},
		{name: "redis without addr", mutate: func(c *Config) { c.Robots.Cache = "redis" }, want: "redis.addr"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Archive.Backend = "gcs" }, want: "archive.bucket"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Events.Backend = "kafka" }, want: "events.brokers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
