package crawler

import (
	"context"
	"time"
)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes page events to Pub/Sub, Kafka or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher performs a single HTTP exchange without following redirects.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// LinkExtractor pulls outbound links from a fetched document.
type LinkExtractor interface {
	Extract(pageURL string, contentType string, body []byte) (PageLinks, error)
}

// RobotsGate answers robots.txt questions for admission and pacing.
type RobotsGate interface {
	Allowed(ctx context.Context, rawURL string) bool
	CrawlDelay(ctx context.Context, rawURL string) time.Duration
}

// SitemapSource discovers sitemap URLs for a site.
type SitemapSource interface {
	SitemapEntries(ctx context.Context, siteURL string) ([]SitemapEntry, error)
}

// Hasher computes digests for identity keys and content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session and worker IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
