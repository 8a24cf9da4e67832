package crawler

import (
	"net/http"
	"time"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the response content type header.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// Link is one outbound reference found in a document.
type Link struct {
	Href     string
	Text     string
	Rel      string
	Hreflang string
	Nofollow bool
}

// PageLinks groups the links of a page with the base they resolve against.
type PageLinks struct {
	Base  string
	Links []Link
}

// SitemapEntry is one <url> element of a sitemap.
type SitemapEntry struct {
	Loc      string
	Priority float64
	LastMod  string
}

// PageEvent is published for every successfully fetched page.
type PageEvent struct {
	SessionID    string    `json:"session_id"`
	URL          string    `json:"url"`
	Key          string    `json:"key"`
	StatusCode   int       `json:"status_code"`
	ContentType  string    `json:"content_type,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
	Bytes        int       `json:"bytes"`
	Depth        int       `json:"depth"`
	OutLinks     int       `json:"out_links"`
	UsedHeadless bool      `json:"used_headless"`
	DurationMs   int64     `json:"duration_ms"`
	BlobURI      string    `json:"blob_uri,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// PartitionKey keys page events by session so one session stays ordered.
func (e PageEvent) PartitionKey() string {
	return e.SessionID
}
