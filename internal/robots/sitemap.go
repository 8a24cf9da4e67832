package robots

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

const (
	maxSitemapBytes = 50 << 20
	defaultPriority = 0.5
)

// SitemapEntries reads the sitemaps advertised in robots.txt plus
// /sitemap.xml for the origin of siteURL. Sitemap indexes are followed until
// MaxSitemaps documents have been read. Unreadable documents are skipped.
func (g *Gatekeeper) SitemapEntries(ctx context.Context, siteURL string) ([]crawler.SitemapEntry, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("parse site url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("site url %q has no host", siteURL)
	}
	root := origin(u)

	queue := append([]string{}, g.Sitemaps(ctx, root)...)
	queue = append(queue, root+"/sitemap.xml")
	seen := make(map[string]struct{}, len(queue))
	var entries []crawler.SitemapEntry
	fetched := 0

	for len(queue) > 0 && fetched < g.cfg.MaxSitemaps {
		next := strings.TrimSpace(queue[0])
		queue = queue[1:]
		if next == "" {
			continue
		}
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		fetched++

		body, status, err := g.get(ctx, next, maxSitemapBytes)
		if err != nil || status != http.StatusOK {
			g.logger.Debug("sitemap unavailable", zap.String("url", next), zap.Int("status", status), zap.Error(err))
			continue
		}
		urls, children, err := parseSitemap(body)
		if err != nil {
			g.logger.Debug("sitemap parse failed", zap.String("url", next), zap.Error(err))
			continue
		}
		entries = append(entries, urls...)
		queue = append(queue, children...)
	}
	return entries, nil
}

// parseSitemap returns the <url> entries of a urlset and the <sitemap>
// locations of a sitemap index.
func parseSitemap(body []byte) ([]crawler.SitemapEntry, []string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse sitemap xml: %w", err)
	}
	var (
		entries  []crawler.SitemapEntry
		children []string
	)
	for _, n := range xmlquery.Find(doc, "//*[local-name()='url']") {
		entry := crawler.SitemapEntry{Priority: defaultPriority}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != xmlquery.ElementNode {
				continue
			}
			text := strings.TrimSpace(c.InnerText())
			switch c.Data {
			case "loc":
				entry.Loc = text
			case "lastmod":
				entry.LastMod = text
			case "priority":
				entry.Priority = parsePriority(text)
			}
		}
		if entry.Loc != "" {
			entries = append(entries, entry)
		}
	}
	for _, n := range xmlquery.Find(doc, "//*[local-name()='sitemap']/*[local-name()='loc']") {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			children = append(children, loc)
		}
	}
	return entries, children, nil
}

func parsePriority(raw string) float64 {
	p, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultPriority
	}
	return min(max(p, 0), 1)
}
