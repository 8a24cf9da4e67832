package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/frontier-crawler/internal/store"
)

// SessionStore implements store.SessionRepository using Postgres.
type SessionStore struct {
	pool pool
}

var _ store.SessionRepository = (*SessionStore)(nil)

// NewSessionStore connects, migrates and returns a SessionStore.
func NewSessionStore(ctx context.Context, cfg PoolConfig) (*SessionStore, error) {
	p, err := Connect(ctx, cfg, sessionSchema)
	if err != nil {
		return nil, err
	}
	return &SessionStore{pool: p}, nil
}

// NewSessionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSessionStoreWithPool(p pool) (*SessionStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SessionStore{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *SessionStore) Close() {
	s.pool.Close()
}

// UpsertSessionStart inserts the running row, or flips an existing row back
// to running.
func (s *SessionStore) UpsertSessionStart(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_sessions (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE crawl_sessions.status <> EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, id, startedAt, string(store.SessionRunning)); err != nil {
		return fmt.Errorf("failed to upsert session start: %w", err)
	}
	return nil
}

// CompleteSession marks a session finished.
func (s *SessionStore) CompleteSession(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.SessionStatus,
	counters store.Counters,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_sessions
		SET finished_at = $1, status = $2, error_message = $3,
			fetched = $4, redirected = $5, retried = $6, abandoned = $7
		WHERE id = $8;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg,
		counters.Fetched, counters.Redirected, counters.Retried, counters.Abandoned, id)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// statusColumns maps a status class to its counter column.
var statusColumns = map[string]string{
	"2xx": "fetch_2xx",
	"3xx": "fetch_3xx",
	"4xx": "fetch_4xx",
	"5xx": "fetch_5xx",
}

// UpsertHostStats adds deltas to the (session, host) aggregate, creating the
// row on first use.
func (s *SessionStore) UpsertHostStats(
	ctx context.Context,
	id uuid.UUID,
	host string,
	deltaVisits,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	column, ok := statusColumns[statusClass]
	if !ok {
		return fmt.Errorf("unknown status class: %s", statusClass)
	}
	query := fmt.Sprintf(`
		INSERT INTO session_hosts (session_id, host, last_update, visits, bytes_total, %[1]s)
		VALUES ($1, $2, $3, $4, $5, $4)
		ON CONFLICT (session_id, host) DO UPDATE SET
			visits = session_hosts.visits + EXCLUDED.visits,
			bytes_total = session_hosts.bytes_total + EXCLUDED.bytes_total,
			%[1]s = session_hosts.%[1]s + EXCLUDED.%[1]s,
			last_update = GREATEST(session_hosts.last_update, EXCLUDED.last_update);
	`, column)
	if _, err := s.pool.Exec(ctx, query, id, host, at, deltaVisits, deltaBytes); err != nil {
		return fmt.Errorf("failed to upsert host stats: %w", err)
	}
	return nil
}

const sessionColumns = `id, started_at, finished_at, status, error_message, fetched, redirected, retried, abandoned`

func scanSession(row pgx.Row) (store.Session, error) {
	var (
		sess   store.Session
		status string
	)
	err := row.Scan(
		&sess.ID,
		&sess.StartedAt,
		&sess.FinishedAt,
		&status,
		&sess.ErrorMessage,
		&sess.Counters.Fetched,
		&sess.Counters.Redirected,
		&sess.Counters.Retried,
		&sess.Counters.Abandoned,
	)
	sess.Status = store.SessionStatus(status)
	return sess, err
}

// GetSession retrieves a single session by its ID.
func (s *SessionStore) GetSession(ctx context.Context, id uuid.UUID) (store.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM crawl_sessions WHERE id = $1;`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrNotFound
		}
		return store.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions retrieves sessions, newest first, with optional status filtering.
func (s *SessionStore) ListSessions(
	ctx context.Context,
	status *store.SessionStatus,
	limit,
	offset int,
) ([]store.Session, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	query := `
		SELECT ` + sessionColumns + `
		FROM crawl_sessions
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListSessionHosts retrieves host aggregates for a session, most recent first.
func (s *SessionStore) ListSessionHosts(
	ctx context.Context,
	id uuid.UUID,
	limit,
	offset int,
) ([]store.HostStats, error) {
	query := `
		SELECT session_id, host, last_update, visits, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx
		FROM session_hosts
		WHERE session_id = $1
		ORDER BY last_update DESC, host ASC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list session hosts: %w", err)
	}
	defer rows.Close()

	var stats []store.HostStats
	for rows.Next() {
		var stat store.HostStats
		err := rows.Scan(
			&stat.SessionID,
			&stat.Host,
			&stat.LastUpdate,
			&stat.Visits,
			&stat.BytesTotal,
			&stat.Fetch2xx,
			&stat.Fetch3xx,
			&stat.Fetch4xx,
			&stat.Fetch5xx,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}
