// Package store declares the persistence contract for crawl sessions and
// their per-host aggregates.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested session does not exist.
var ErrNotFound = errors.New("session not found")

// SessionStatus mirrors the crawl_sessions status column.
type SessionStatus string

// Session statuses persisted in crawl_sessions.status.
const (
	SessionRunning  SessionStatus = "running"
	SessionSuccess  SessionStatus = "success"
	SessionError    SessionStatus = "error"
	SessionCanceled SessionStatus = "canceled"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionRunning, SessionSuccess, SessionError, SessionCanceled:
		return true
	default:
		return false
	}
}

// Counters are the final tallies of a crawl session.
type Counters struct {
	Fetched    int64 `json:"fetched"`
	Redirected int64 `json:"redirected"`
	Retried    int64 `json:"retried"`
	Abandoned  int64 `json:"abandoned"`
}

// Session models one crawl run.
type Session struct {
	ID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a final status.
	FinishedAt   *time.Time
	Status       SessionStatus
	ErrorMessage *string
	Counters     Counters
}

// HostStats aggregates fetch results per host within a session.
type HostStats struct {
	SessionID  uuid.UUID
	Host       string
	LastUpdate time.Time
	Visits     int64
	BytesTotal int64
	// Fetch2xx-5xx hold per-status-class counts.
	Fetch2xx int64
	Fetch3xx int64
	Fetch4xx int64
	Fetch5xx int64
}

// StatusClass buckets an HTTP status into 2xx..5xx. Zero means the request
// never produced a status.
func StatusClass(status int) (string, error) {
	switch {
	case status >= 200 && status < 300:
		return "2xx", nil
	case status >= 300 && status < 400:
		return "3xx", nil
	case status >= 400 && status < 500:
		return "4xx", nil
	case status >= 500 && status < 600:
		return "5xx", nil
	default:
		return "", fmt.Errorf("unknown status class for %d", status)
	}
}

// SessionRepository persists crawl sessions and host aggregates.
type SessionRepository interface {
	// UpsertSessionStart inserts (or idempotently updates) the running row.
	UpsertSessionStart(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// CompleteSession records the final status, counters and error.
	CompleteSession(
		ctx context.Context,
		id uuid.UUID,
		finishedAt time.Time,
		status SessionStatus,
		counters Counters,
		errMsg *string,
	) error
	// UpsertHostStats applies visit/byte deltas per (session, host, statusClass).
	UpsertHostStats(
		ctx context.Context,
		id uuid.UUID,
		host string,
		deltaVisits int64,
		deltaBytes int64,
		statusClass string,
		at time.Time,
	) error

	// GetSession loads a single session or returns ErrNotFound.
	GetSession(ctx context.Context, id uuid.UUID) (Session, error)
	// ListSessions returns sessions filtered by optional status, newest first.
	ListSessions(ctx context.Context, status *SessionStatus, limit, offset int) ([]Session, error)
	// ListSessionHosts returns host aggregates for one session.
	ListSessionHosts(ctx context.Context, id uuid.UUID, limit, offset int) ([]HostStats, error)
}
