// Package postgres provides Postgres-backed persistence for the frontier and
// crawl sessions, so several crawler processes can share one frontier.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the stores use.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Connect opens a pool and applies schema.
func Connect(ctx context.Context, cfg PoolConfig, schema string) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if schema != "" {
		if _, err := p.Exec(ctx, schema); err != nil {
			p.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return p, nil
}

const entryColumns = `id, url_key, url, host, class, source, depth, score, sitemap_priority, inlinks,
	state, attempts, claimed_by, claimed_at, next_eligible_at, last_outcome, last_status,
	last_error, content_hash, redirect_target, discovered_at, updated_at`

// FrontierStore implements frontier.Store on Postgres. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never block on each other's
// rows.
type FrontierStore struct {
	pool  pool
	opts  frontier.Options
	clock crawler.Clock
}

var _ frontier.Store = (*FrontierStore)(nil)

// NewFrontierStore connects, migrates and returns a FrontierStore.
func NewFrontierStore(ctx context.Context, cfg PoolConfig, opts frontier.Options, clock crawler.Clock) (*FrontierStore, error) {
	p, err := Connect(ctx, cfg, frontierSchema)
	if err != nil {
		return nil, err
	}
	return NewFrontierStoreWithPool(p, opts, clock)
}

// NewFrontierStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewFrontierStoreWithPool(p pool, opts frontier.Options, clock crawler.Clock) (*FrontierStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		clock = system.New()
	}
	return &FrontierStore{pool: p, opts: opts, clock: clock}, nil
}

func scanEntry(row pgx.Row) (frontier.Entry, error) {
	var (
		e             frontier.Entry
		source, state string
		claimedAt     *time.Time
	)
	err := row.Scan(
		&e.ID, &e.Key, &e.URL, &e.Host, &e.Class, &source, &e.Depth, &e.Score,
		&e.SitemapPriority, &e.Inlinks, &state, &e.Attempts, &e.ClaimedBy, &claimedAt,
		&e.NextEligibleAt, &e.LastOutcome, &e.LastStatus, &e.LastError, &e.ContentHash,
		&e.RedirectTarget, &e.DiscoveredAt, &e.UpdatedAt,
	)
	if err != nil {
		return frontier.Entry{}, err
	}
	e.Source = frontier.Source(source)
	e.State = frontier.State(state)
	if claimedAt != nil {
		e.ClaimedAt = claimedAt.UTC()
	}
	e.NextEligibleAt = e.NextEligibleAt.UTC()
	e.DiscoveredAt = e.DiscoveredAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func insertEntry(ctx context.Context, tx pgx.Tx, e frontier.Entry) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
INSERT INTO frontier_entries (
	url_key, url, host, class, source, depth, score, sitemap_priority, inlinks, state,
	attempts, claimed_by, claimed_at, next_eligible_at, last_outcome, last_status,
	last_error, content_hash, redirect_target, discovered_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
ON CONFLICT (url_key) DO NOTHING
RETURNING id`,
		e.Key, e.URL, e.Host, e.Class, string(e.Source), e.Depth, e.Score, e.SitemapPriority,
		e.Inlinks, string(e.State), e.Attempts, e.ClaimedBy, nullTime(e.ClaimedAt),
		e.NextEligibleAt, e.LastOutcome, e.LastStatus, e.LastError, e.ContentHash,
		e.RedirectTarget, e.DiscoveredAt, e.UpdatedAt,
	).Scan(&id)
	return id, err
}

func updateEntry(ctx context.Context, tx pgx.Tx, e frontier.Entry) error {
	_, err := tx.Exec(ctx, `
UPDATE frontier_entries SET
	depth = $2, score = $3, sitemap_priority = $4, inlinks = $5, state = $6, attempts = $7,
	claimed_by = $8, claimed_at = $9, next_eligible_at = $10, last_outcome = $11,
	last_status = $12, last_error = $13, content_hash = $14, redirect_target = $15,
	updated_at = $16
WHERE id = $1`,
		e.ID, e.Depth, e.Score, e.SitemapPriority, e.Inlinks, string(e.State), e.Attempts,
		e.ClaimedBy, nullTime(e.ClaimedAt), e.NextEligibleAt, e.LastOutcome, e.LastStatus,
		e.LastError, e.ContentHash, e.RedirectTarget, e.UpdatedAt,
	)
	return err
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *FrontierStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Enqueue implements frontier.Store.
func (s *FrontierStore) Enqueue(ctx context.Context, req frontier.EnqueueRequest) (frontier.EnqueueResult, error) {
	now := s.clock.Now()
	var res frontier.EnqueueResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for attempt := 0; attempt < 2; attempt++ {
			existing, err := scanEntry(tx.QueryRow(ctx,
				`SELECT `+entryColumns+` FROM frontier_entries WHERE url_key = $1 FOR UPDATE`, req.Key))
			if err == nil {
				merged, changed := frontier.Merge(existing, req, s.opts, now)
				if changed {
					if err := updateEntry(ctx, tx, merged); err != nil {
						return fmt.Errorf("update entry: %w", err)
					}
				}
				res = frontier.EnqueueResult{Entry: merged}
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("load entry: %w", err)
			}

			e := frontier.NewEntry(req, s.opts, now)
			id, err := insertEntry(ctx, tx, e)
			if errors.Is(err, pgx.ErrNoRows) {
				// Another writer inserted the key first; merge into it.
				continue
			}
			if err != nil {
				return fmt.Errorf("insert entry: %w", err)
			}
			e.ID = id
			res = frontier.EnqueueResult{Entry: e, Created: true}
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", req.Key, frontier.ErrClaimConflict)
	})
	if err != nil {
		return frontier.EnqueueResult{}, fmt.Errorf("enqueue %s: %w", req.URL, err)
	}
	return res, nil
}

// ClaimBatch implements frontier.Store.
func (s *FrontierStore) ClaimBatch(ctx context.Context, n int, worker string) ([]frontier.Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	now := s.clock.Now()
	rows, err := s.pool.Query(ctx, `
WITH picked AS (
	SELECT id FROM frontier_entries
	WHERE state = 'queued' AND next_eligible_at <= $1
	ORDER BY score DESC, depth ASC, id ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE frontier_entries f
SET state = 'claimed', claimed_by = $3, claimed_at = $1, updated_at = $1
FROM picked
WHERE f.id = picked.id
RETURNING `+prefixed("f.", entryColumns), now, n, worker)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var claimed []frontier.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed entry: %w", err)
		}
		claimed = append(claimed, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	sort.Slice(claimed, func(i, j int) bool { return frontier.Less(claimed[i], claimed[j]) })
	return claimed, nil
}

// ClaimKey implements frontier.Store.
func (s *FrontierStore) ClaimKey(ctx context.Context, key, worker string) (frontier.Entry, bool, error) {
	now := s.clock.Now()
	e, err := scanEntry(s.pool.QueryRow(ctx, `
UPDATE frontier_entries
SET state = 'claimed', claimed_by = $2, claimed_at = $3, updated_at = $3
WHERE url_key = $1 AND state = 'queued' AND next_eligible_at <= $3
RETURNING `+entryColumns, key, worker, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return frontier.Entry{}, false, nil
	}
	if err != nil {
		return frontier.Entry{}, false, fmt.Errorf("claim key: %w", err)
	}
	return e, true, nil
}

// Complete implements frontier.Store.
func (s *FrontierStore) Complete(ctx context.Context, claim frontier.Claim, outcome frontier.Outcome) error {
	now := s.clock.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		e, err := scanEntry(tx.QueryRow(ctx,
			`SELECT `+entryColumns+` FROM frontier_entries WHERE id = $1 FOR UPDATE`, claim.EntryID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("complete entry %d: %w", claim.EntryID, frontier.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load entry %d: %w", claim.EntryID, err)
		}
		next, changed, err := frontier.ApplyOutcome(e, claim, outcome, now)
		if err != nil || !changed {
			return err
		}
		if err := updateEntry(ctx, tx, next); err != nil {
			return fmt.Errorf("complete entry %d: %w", claim.EntryID, err)
		}
		return nil
	})
}

// Release implements frontier.Store.
func (s *FrontierStore) Release(ctx context.Context, claims []frontier.Claim, eligibleAt time.Time) error {
	now := s.clock.Now()
	for _, c := range claims {
		_, err := s.pool.Exec(ctx, `
UPDATE frontier_entries
SET state = 'queued', next_eligible_at = $3, updated_at = $4
WHERE id = $1 AND state = 'claimed' AND claimed_by = $2`, c.EntryID, c.Worker, eligibleAt, now)
		if err != nil {
			return fmt.Errorf("release entry %d: %w", c.EntryID, err)
		}
	}
	return nil
}

// ReclaimStale implements frontier.Store.
func (s *FrontierStore) ReclaimStale(ctx context.Context, maxAge time.Duration) (int, error) {
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
UPDATE frontier_entries
SET state = 'queued', claimed_by = '', next_eligible_at = $2, updated_at = $2
WHERE state = 'claimed' AND claimed_at <= $1`, now.Add(-maxAge), now)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// IsExhausted implements frontier.Store.
func (s *FrontierStore) IsExhausted(ctx context.Context) (bool, error) {
	var exhausted bool
	err := s.pool.QueryRow(ctx, `
SELECT NOT EXISTS (
	SELECT 1 FROM frontier_entries WHERE state IN ('queued', 'claimed')
)`).Scan(&exhausted)
	if err != nil {
		return false, fmt.Errorf("check exhausted: %w", err)
	}
	return exhausted, nil
}

// Lookup implements frontier.Store.
func (s *FrontierStore) Lookup(ctx context.Context, key string) (frontier.Entry, bool, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM frontier_entries WHERE url_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return frontier.Entry{}, false, nil
	}
	if err != nil {
		return frontier.Entry{}, false, fmt.Errorf("lookup entry: %w", err)
	}
	return e, true, nil
}

// RecordRedirect implements frontier.Store.
func (s *FrontierStore) RecordRedirect(ctx context.Context, hop frontier.RedirectHop) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO frontier_redirects (
	source_key, seq, from_url, to_url, to_key, status, chain_length, result, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (source_key, seq) DO NOTHING`,
		hop.SourceKey, hop.Seq, hop.FromURL, hop.ToURL, hop.ToKey, hop.Status,
		hop.ChainLength, hop.Result, hop.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert redirect: %w", err)
	}
	return nil
}

// Redirects implements frontier.Store.
func (s *FrontierStore) Redirects(ctx context.Context, sourceKey string) ([]frontier.RedirectHop, error) {
	rows, err := s.pool.Query(ctx, `
SELECT source_key, seq, from_url, to_url, to_key, status, chain_length, result, created_at
FROM frontier_redirects
WHERE source_key = $1
ORDER BY seq ASC`, sourceKey)
	if err != nil {
		return nil, fmt.Errorf("list redirects: %w", err)
	}
	defer rows.Close()

	var hops []frontier.RedirectHop
	for rows.Next() {
		var h frontier.RedirectHop
		if err := rows.Scan(&h.SourceKey, &h.Seq, &h.FromURL, &h.ToURL, &h.ToKey, &h.Status,
			&h.ChainLength, &h.Result, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan redirect: %w", err)
		}
		hops = append(hops, h)
	}
	return hops, rows.Err()
}

// RecordLinks implements frontier.Store.
func (s *FrontierStore) RecordLinks(ctx context.Context, fromKey string, toKeys []string) error {
	if len(toKeys) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO frontier_links (from_key, to_key)
SELECT $1, k FROM unnest($2::text[]) AS k
ON CONFLICT DO NOTHING`, fromKey, toKeys)
	if err != nil {
		return fmt.Errorf("insert links: %w", err)
	}
	return nil
}

// OutLinks implements frontier.Store.
func (s *FrontierStore) OutLinks(ctx context.Context, fromKey string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT to_key FROM frontier_links WHERE from_key = $1 ORDER BY to_key`, fromKey)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Stats implements frontier.Store.
func (s *FrontierStore) Stats(ctx context.Context) (frontier.Stats, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, count(*) FROM frontier_entries GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("frontier stats: %w", err)
	}
	defer rows.Close()

	stats := make(frontier.Stats)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[frontier.State(state)] = int(n)
	}
	return stats, rows.Err()
}

// Reset implements frontier.Store.
func (s *FrontierStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE frontier_entries, frontier_redirects, frontier_links`); err != nil {
		return fmt.Errorf("reset frontier: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *FrontierStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// prefixed qualifies every column in a comma separated list with p.
func prefixed(p, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = p + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
