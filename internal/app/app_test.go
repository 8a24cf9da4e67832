package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/config"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
)

func siteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/about">about</a></body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/">home</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
frontier:
  backend: memory
crawler:
  concurrency: 2
  delay: 0s
  poll_interval: 10ms
  timeout: 2s
archive:
  backend: memory
events:
  backend: memory
`), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func build(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestCrawlFetchesSeedAndLinks(t *testing.T) {
	t.Parallel()

	srv := siteServer(t)
	cfg := testConfig(t)
	cfg.Crawler.Seeds = []string{srv.URL + "/", "not a url"}
	a := build(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary, err := a.Crawl(ctx)
	require.NoError(t, err)
	require.False(t, summary.Canceled)
	require.EqualValues(t, 2, summary.Fetched)
	require.Equal(t, 2, summary.Frontier[frontier.StateFetched])

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/frontier/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"fetched":2`)

	// Session rows arrive through the batched progress hub.
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
		return rec.Code == http.StatusOK && bytes.Contains(rec.Body.Bytes(), []byte(summary.SessionID))
	}, 5*time.Second, 50*time.Millisecond)
}

func TestCrawlResetsFrontier(t *testing.T) {
	t.Parallel()

	srv := siteServer(t)
	cfg := testConfig(t)
	cfg.Crawler.Seeds = []string{srv.URL + "/"}
	cfg.Crawler.MaxPages = 1
	a := build(t, cfg)

	ctx := context.Background()
	first, err := a.Crawl(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, first.Fetched)

	a.cfg.Crawler.ResetFrontier = true
	second, err := a.Crawl(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, second.Fetched, "the seed is fetched again after a reset")
}

func TestServeCrawlsPostedSeeds(t *testing.T) {
	t.Parallel()

	srv := siteServer(t)
	a := build(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	body := fmt.Sprintf(`{"urls":[%q]}`, srv.URL+"/")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/seeds", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		stats, err := a.Frontier().Stats(context.Background())
		return err == nil && stats[frontier.StateFetched] == 2
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestBuildFailsOnBadArchiveDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	cfg := testConfig(t)
	cfg.Archive.Backend = "local"
	cfg.Archive.BaseDir = file

	_, err := Build(context.Background(), cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.ErrorContains(t, err, "local blob store init failed")
}

func TestOpenFrontierSQLitePersists(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Frontier.Backend = config.BackendSQLite
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "frontier.db")
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	st, err := OpenFrontier(ctx, cfg, system.New(), logger)
	require.NoError(t, err)
	_, err = st.Enqueue(ctx, frontier.EnqueueRequest{
		Key: "k1", URL: "https://example.com/", Host: "example.com",
		Source: frontier.SourceSeed, Admitted: true,
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = OpenFrontier(ctx, cfg, system.New(), logger)
	require.NoError(t, err)
	defer st.Close()
	entry, found, err := st.Lookup(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, frontier.StateQueued, entry.State)
}

func TestOpenFrontierUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Frontier.Backend = "cassandra"
	_, err := OpenFrontier(context.Background(), cfg, system.New(), zaptest.NewLogger(t))
	require.Error(t, err)
}
