package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const sitemapIndex = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%[1]s/pages.xml</loc></sitemap>
  <sitemap><loc>%[1]s/pages.xml</loc></sitemap>
</sitemapindex>`

const pagesSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/a</loc><priority>0.9</priority><lastmod>2025-01-01</lastmod></url>
  <url><loc>%[1]s/b</loc></url>
  <url><loc>%[1]s/c</loc><priority>7</priority></url>
  <url><priority>0.1</priority></url>
</urlset>`

func TestSitemapEntries(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nSitemap: %s/index.xml\n", srv.URL)
	})
	mux.HandleFunc("/index.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, sitemapIndex, srv.URL)
	})
	mux.HandleFunc("/pages.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, pagesSitemap, srv.URL)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g := New(Config{UserAgent: "somebot"}, srv.Client(), nil, nil, nil)
	entries, err := g.SitemapEntries(context.Background(), srv.URL+"/some/page")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.Equal(t, srv.URL+"/a", entries[0].Loc)
	require.InDelta(t, 0.9, entries[0].Priority, 1e-9)
	require.Equal(t, "2025-01-01", entries[0].LastMod)
	require.InDelta(t, 0.5, entries[1].Priority, 1e-9)
	require.InDelta(t, 1.0, entries[2].Priority, 1e-9)
}

func TestSitemapEntriesBounded(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		// Every document links to one more index.
		fmt.Fprintf(w, `<sitemapindex><sitemap><loc>%s%s/x</loc></sitemap></sitemapindex>`, srv.URL, r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	g := New(Config{MaxSitemaps: 3}, srv.Client(), nil, nil, nil)
	entries, err := g.SitemapEntries(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSitemapEntriesInvalidURL(t *testing.T) {
	t.Parallel()

	g := New(Config{}, nil, nil, nil, nil)
	_, err := g.SitemapEntries(context.Background(), "not a url")
	require.Error(t, err)
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 0.5, parsePriority("high"), 1e-9)
	require.InDelta(t, 0.0, parsePriority("-1"), 1e-9)
	require.InDelta(t, 0.3, parsePriority("0.3"), 1e-9)
}
