package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/clock/fake"
)

const robotsBody = `User-agent: *
Disallow: /private
Crawl-delay: 2

User-agent: frontierbot
Disallow: /bots-only
Crawl-delay: 1

Sitemap: %s/custom-sitemap.xml
`

func newSite(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		fmt.Fprintf(w, robotsBody, srv.URL)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAllowedHonorsGroups(t *testing.T) {
	t.Parallel()

	srv := newSite(t, nil)
	ctx := context.Background()

	generic := New(Config{UserAgent: "somebot", Respect: true}, srv.Client(), nil, nil, nil)
	require.False(t, generic.Allowed(ctx, srv.URL+"/private/page"))
	require.True(t, generic.Allowed(ctx, srv.URL+"/bots-only"))
	require.Equal(t, 2*time.Second, generic.CrawlDelay(ctx, srv.URL+"/"))

	named := New(Config{UserAgent: "FrontierBot/1.0", Respect: true}, srv.Client(), nil, nil, nil)
	require.True(t, named.Allowed(ctx, srv.URL+"/private/page"))
	require.False(t, named.Allowed(ctx, srv.URL+"/bots-only?x=1"))
	require.Equal(t, time.Second, named.CrawlDelay(ctx, srv.URL+"/"))

	require.Equal(t, []string{srv.URL + "/custom-sitemap.xml"}, named.Sitemaps(ctx, srv.URL))
}

func TestAllowedDisabled(t *testing.T) {
	t.Parallel()

	srv := newSite(t, nil)
	g := New(Config{UserAgent: "somebot"}, srv.Client(), nil, nil, nil)
	require.True(t, g.Allowed(context.Background(), srv.URL+"/private"))
	require.Zero(t, g.CrawlDelay(context.Background(), srv.URL))
}

func TestServerErrorDisallowsEverything(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	g := New(Config{UserAgent: "somebot", Respect: true}, srv.Client(), nil, nil, nil)
	require.False(t, g.Allowed(context.Background(), srv.URL+"/anything"))
}

func TestMissingRobotsAllowsEverything(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	g := New(Config{UserAgent: "somebot", Respect: true}, srv.Client(), nil, nil, nil)
	require.True(t, g.Allowed(context.Background(), srv.URL+"/anything"))
}

func TestUnreachableRobotsAllows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	g := New(Config{UserAgent: "somebot", Respect: true, Timeout: time.Second}, &http.Client{Timeout: time.Second}, nil, nil, nil)
	require.True(t, g.Allowed(context.Background(), addr+"/page"))
	require.False(t, g.Allowed(context.Background(), "::not a url"))
}

func TestRobotsFetchedOncePerTTL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newSite(t, &hits)
	clock := fake.New(time.Now())
	g := New(Config{UserAgent: "somebot", Respect: true, TTL: time.Hour}, srv.Client(), nil, clock, nil)
	ctx := context.Background()

	for range 5 {
		g.Allowed(ctx, srv.URL+"/a")
	}
	require.EqualValues(t, 1, hits.Load())

	clock.Advance(2 * time.Hour)
	g.Allowed(ctx, srv.URL+"/a")
	require.EqualValues(t, 2, hits.Load())
}

func TestSharedCacheServesOtherGatekeepers(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newSite(t, &hits)
	clock := fake.New(time.Now())
	cache := NewMemoryCache(clock)

	first := New(Config{UserAgent: "somebot", Respect: true}, srv.Client(), cache, clock, nil)
	second := New(Config{UserAgent: "somebot", Respect: true}, srv.Client(), cache, clock, nil)

	require.False(t, first.Allowed(context.Background(), srv.URL+"/private"))
	require.False(t, second.Allowed(context.Background(), srv.URL+"/private"))
	require.EqualValues(t, 1, hits.Load())
}
