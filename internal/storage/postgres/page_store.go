package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PageStore records page events as rows, acting as a crawler.Publisher for
// deployments that keep everything in Postgres.
type PageStore struct {
	pool  execCloser
	table string
}

var _ crawler.Publisher = (*PageStore)(nil)

func pageSchema(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	session_id    TEXT NOT NULL,
	url_key       TEXT NOT NULL,
	url           TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	content_hash  TEXT NOT NULL DEFAULT '',
	bytes         INTEGER NOT NULL DEFAULT 0,
	depth         INTEGER NOT NULL,
	out_links     INTEGER NOT NULL DEFAULT 0,
	used_headless BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	blob_uri      TEXT NOT NULL DEFAULT '',
	fetched_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, url_key)
)`, table)
}

// NewPageStore connects, creates the table and returns a PageStore.
func NewPageStore(ctx context.Context, cfg PoolConfig, table string) (*PageStore, error) {
	if table == "" {
		table = "crawl_pages"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	p, err := Connect(ctx, cfg, pageSchema(table))
	if err != nil {
		return nil, err
	}
	return &PageStore{pool: p, table: table}, nil
}

// NewPageStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPageStoreWithPool(pool execCloser, table string) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_pages"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PageStore{pool: pool, table: table}, nil
}

// Publish inserts the page event. The topic is ignored; rows go to the
// configured table. Re-fetching a key in the same session overwrites it.
func (s *PageStore) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("page store is not configured")
	}
	ev, ok := payload.(crawler.PageEvent)
	if !ok {
		return "", fmt.Errorf("unsupported payload type %T", payload)
	}
	if ev.Key == "" {
		return "", fmt.Errorf("event key is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	session_id, url_key, url, status_code, content_type, content_hash, bytes,
	depth, out_links, used_headless, duration_ms, blob_uri, fetched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (session_id, url_key) DO UPDATE SET
	status_code = EXCLUDED.status_code,
	content_hash = EXCLUDED.content_hash,
	bytes = EXCLUDED.bytes,
	fetched_at = EXCLUDED.fetched_at`, s.table)

	args := []any{
		ev.SessionID,
		ev.Key,
		ev.URL,
		ev.StatusCode,
		ev.ContentType,
		ev.ContentHash,
		ev.Bytes,
		ev.Depth,
		ev.OutLinks,
		ev.UsedHeadless,
		ev.DurationMs,
		ev.BlobURI,
		ev.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert page: %w", err)
	}
	return ev.SessionID + "/" + ev.Key, nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
