package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/middleware"
	"github.com/JakeFAU/frontier-crawler/internal/store"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
	defaultHostsLimit   = 100
	maxHostsLimit       = 1000
	sessionTimeout      = 3 * time.Second
)

// SessionHandler exposes read-only crawl session endpoints.
type SessionHandler struct {
	repo    store.SessionRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewSessionHandler wires the repository and logger.
func NewSessionHandler(repo store.SessionRepository, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		repo:    repo,
		timeout: sessionTimeout,
		logger:  logger,
	}
}

// ListSessions handles GET /v1/sessions?status=&limit=&offset=. It returns
// {"sessions": [...]}, 400 for invalid filters, 503 without a repository and
// 500 when the repository fails.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "session repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSessionLimit, maxSessionLimit)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.SessionStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseStatus(raw)
		if parseErr != nil {
			middleware.WriteError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessions, err := h.repo.ListSessions(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"sessions": toSessionDTOs(sessions)})
}

// GetSession handles GET /v1/sessions/{session_id}.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "session repository unavailable")
		return
	}
	id, err := parseSessionID(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, err := h.repo.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("get session failed", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"session": toSessionDTO(session)})
}

// ListSessionHosts handles GET /v1/sessions/{session_id}/hosts?limit=&offset=.
func (h *SessionHandler) ListSessionHosts(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "session repository unavailable")
		return
	}
	id, err := parseSessionID(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultHostsLimit, maxHostsLimit)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	hosts, err := h.repo.ListSessionHosts(ctx, id, limit, offset)
	if err != nil {
		h.logger.Error("list session hosts failed", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "failed to list session hosts")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"hosts": toHostDTOs(hosts)})
}

func parseSessionID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "session_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("session_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid session_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.SessionStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.SessionRunning, nil
	case "success", "succeeded":
		return store.SessionSuccess, nil
	case "error", "failed", "failure":
		return store.SessionError, nil
	case "canceled", "cancelled":
		return store.SessionCanceled, nil
	default:
		return "", errors.New("invalid status")
	}
}

type sessionDTO struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Status     string         `json:"status"`
	Error      *string        `json:"error,omitempty"`
	Counters   store.Counters `json:"counters"`
}

type hostDTO struct {
	Host       string    `json:"host"`
	LastUpdate time.Time `json:"last_update"`
	Visits     int64     `json:"visits"`
	BytesTotal int64     `json:"bytes_total"`
	Fetch2xx   int64     `json:"fetch_2xx"`
	Fetch3xx   int64     `json:"fetch_3xx"`
	Fetch4xx   int64     `json:"fetch_4xx"`
	Fetch5xx   int64     `json:"fetch_5xx"`
}

func toSessionDTOs(in []store.Session) []sessionDTO {
	out := make([]sessionDTO, 0, len(in))
	for _, s := range in {
		out = append(out, toSessionDTO(s))
	}
	return out
}

func toSessionDTO(s store.Session) sessionDTO {
	return sessionDTO{
		ID:         s.ID.String(),
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Status:     string(s.Status),
		Error:      s.ErrorMessage,
		Counters:   s.Counters,
	}
}

func toHostDTOs(in []store.HostStats) []hostDTO {
	out := make([]hostDTO, 0, len(in))
	for _, h := range in {
		out = append(out, hostDTO{
			Host:       h.Host,
			LastUpdate: h.LastUpdate,
			Visits:     h.Visits,
			BytesTotal: h.BytesTotal,
			Fetch2xx:   h.Fetch2xx,
			Fetch3xx:   h.Fetch3xx,
			Fetch4xx:   h.Fetch4xx,
			Fetch5xx:   h.Fetch5xx,
		})
	}
	return out
}
