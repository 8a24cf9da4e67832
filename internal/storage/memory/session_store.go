package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/frontier-crawler/internal/store"
)

// SessionStore is an in-memory store.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]store.Session
	hosts    map[uuid.UUID]map[string]store.HostStats
}

var _ store.SessionRepository = (*SessionStore)(nil)

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]store.Session),
		hosts:    make(map[uuid.UUID]map[string]store.HostStats),
	}
}

// UpsertSessionStart records a running session, keeping the first start time.
func (s *SessionStore) UpsertSessionStart(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = store.Session{ID: id, StartedAt: startedAt}
	}
	sess.Status = store.SessionRunning
	s.sessions[id] = sess
	return nil
}

// CompleteSession records the final status and counters.
func (s *SessionStore) CompleteSession(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.SessionStatus,
	counters store.Counters,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.FinishedAt = pointerTime(finishedAt)
	sess.Status = status
	sess.Counters = counters
	if errMsg != nil {
		msg := *errMsg
		sess.ErrorMessage = &msg
	}
	s.sessions[id] = sess
	return nil
}

// UpsertHostStats adds deltas to the host aggregate.
func (s *SessionStore) UpsertHostStats(
	_ context.Context,
	id uuid.UUID,
	host string,
	deltaVisits,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byHost, ok := s.hosts[id]
	if !ok {
		byHost = make(map[string]store.HostStats)
		s.hosts[id] = byHost
	}
	stat := byHost[host]
	stat.SessionID = id
	stat.Host = host
	stat.Visits += deltaVisits
	stat.BytesTotal += deltaBytes
	switch statusClass {
	case "2xx":
		stat.Fetch2xx += deltaVisits
	case "3xx":
		stat.Fetch3xx += deltaVisits
	case "4xx":
		stat.Fetch4xx += deltaVisits
	case "5xx":
		stat.Fetch5xx += deltaVisits
	default:
		return &unknownClassError{class: statusClass}
	}
	if at.After(stat.LastUpdate) {
		stat.LastUpdate = at
	}
	byHost[host] = stat
	return nil
}

// GetSession fetches a session by ID.
func (s *SessionStore) GetSession(_ context.Context, id uuid.UUID) (store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return sess, nil
}

// ListSessions returns sessions newest first.
func (s *SessionStore) ListSessions(
	_ context.Context,
	status *store.SessionStatus,
	limit,
	offset int,
) ([]store.Session, error) {
	s.mu.RLock()
	out := make([]store.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if status != nil && sess.Status != *status {
			continue
		}
		out = append(out, sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, limit, offset), nil
}

// ListSessionHosts returns host aggregates, most recently updated first.
func (s *SessionStore) ListSessionHosts(
	_ context.Context,
	id uuid.UUID,
	limit,
	offset int,
) ([]store.HostStats, error) {
	s.mu.RLock()
	out := make([]store.HostStats, 0, len(s.hosts[id]))
	for _, stat := range s.hosts[id] {
		out = append(out, stat)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdate.Equal(out[j].LastUpdate) {
			return out[i].LastUpdate.After(out[j].LastUpdate)
		}
		return out[i].Host < out[j].Host
	})
	return page(out, limit, offset), nil
}

type unknownClassError struct{ class string }

func (e *unknownClassError) Error() string { return "unknown status class: " + e.class }

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
