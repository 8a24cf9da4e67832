package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/clock/fake"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/frontier/memory"
	keyhash "github.com/JakeFAU/frontier-crawler/internal/hash/sha256"
	"github.com/JakeFAU/frontier-crawler/internal/scheduler"
	"github.com/JakeFAU/frontier-crawler/internal/urlnorm"
)

type fakeSeeder struct {
	got []string
	err error
}

func (f *fakeSeeder) Seed(_ context.Context, urls []string) ([]scheduler.SeedResult, error) {
	f.got = append(f.got, urls...)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]scheduler.SeedResult, len(urls))
	for i, u := range urls {
		out[i] = scheduler.SeedResult{URL: u, State: "queued"}
	}
	return out, nil
}

type fakeState struct{}

func (fakeState) SessionID() string { return "0190a4a8-0000-7000-8000-000000000001" }
func (fakeState) Running() bool     { return true }

type failingFrontier struct {
	frontier.Store
}

func (failingFrontier) Stats(context.Context) (frontier.Stats, error) {
	return nil, errors.New("database is closed")
}

type serverFixture struct {
	store  *memory.Store
	norm   *urlnorm.Normalizer
	seeder *fakeSeeder
	server *Server
}

func newFixture(t *testing.T, apiKey string) serverFixture {
	t.Helper()
	st := memory.NewStore(frontier.DefaultOptions(), fake.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	norm, err := urlnorm.New(urlnorm.Options{}, keyhash.New())
	require.NoError(t, err)
	seeder := &fakeSeeder{}
	srv := NewServer(Options{
		Frontier:   st,
		Normalizer: norm,
		Seeder:     seeder,
		State:      fakeState{},
		APIKey:     apiKey,
		Logger:     zap.NewNop(),
	})
	return serverFixture{store: st, norm: norm, seeder: seeder, server: srv}
}

func (f serverFixture) enqueue(t *testing.T, raw string) {
	t.Helper()
	u, err := f.norm.Normalize(raw, "")
	require.NoError(t, err)
	_, err = f.store.Enqueue(context.Background(), frontier.EnqueueRequest{
		Key: u.Key, URL: u.Canonical, Host: u.Host, Source: frontier.SourceSeed, Admitted: true,
	})
	require.NoError(t, err)
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	rec := serve(f.server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(f.server, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	broken := NewServer(Options{Frontier: failingFrontier{}})
	rec = serve(broken, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	serve(f.server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := serve(f.server, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_FrontierStats(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.enqueue(t, "https://example.com/")
	f.enqueue(t, "https://example.com/about")

	rec := serve(f.server, httptest.NewRequest(http.MethodGet, "/v1/frontier/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body frontierStatsDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Total)
	require.Equal(t, 2, body.States["queued"])
	require.Contains(t, body.States, "abandoned")
	require.NotNil(t, body.Session)
	require.True(t, body.Session.Running)
}

func TestServer_FrontierLookup(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.enqueue(t, "https://Example.com/docs/")

	rec := serve(f.server, httptest.NewRequest(http.MethodGet,
		"/v1/frontier/lookup?url=https://example.com:443/docs/%23intro", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"queued"`)

	rec = serve(f.server, httptest.NewRequest(http.MethodGet, "/v1/frontier/lookup?url=https://example.com/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(f.server, httptest.NewRequest(http.MethodGet, "/v1/frontier/lookup", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitSeeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	req := httptest.NewRequest(http.MethodPost, "/v1/seeds",
		bytes.NewBufferString(`{"urls":["https://example.com/","https://example.org/"]}`))
	rec := serve(f.server, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"https://example.com/", "https://example.org/"}, f.seeder.got)
	var body struct {
		Seeds []scheduler.SeedResult `json:"seeds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Seeds, 2)
}

func TestServer_SubmitSeedsRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "invalid json", body: "{invalid", want: http.StatusBadRequest},
		{name: "no urls", body: `{"urls":[]}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, "")
			rec := serve(f.server, httptest.NewRequest(http.MethodPost, "/v1/seeds", bytes.NewBufferString(tt.body)))
			require.Equal(t, tt.want, rec.Code)
			require.Empty(t, f.seeder.got)
		})
	}
}

func TestServer_SubmitSeedsStoreError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.seeder.err = errors.New("disk full")
	rec := serve(f.server, httptest.NewRequest(http.MethodPost, "/v1/seeds", bytes.NewBufferString(`{"urls":["https://example.com/"]}`)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "secret")
	rec := serve(f.server, httptest.NewRequest(http.MethodGet, "/v1/frontier/stats", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/frontier/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = serve(f.server, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(f.server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

func TestServer_UnavailableWithoutCollaborators(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{})
	for _, path := range []string{"/v1/frontier/stats", "/v1/frontier/lookup?url=https://example.com/", "/v1/sessions"} {
		rec := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/v1/seeds", bytes.NewBufferString(`{"urls":["https://example.com/"]}`)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
