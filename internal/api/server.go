package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/JakeFAU/frontier-crawler/internal/middleware"
	"github.com/JakeFAU/frontier-crawler/internal/scheduler"
	"github.com/JakeFAU/frontier-crawler/internal/store"
	"github.com/JakeFAU/frontier-crawler/internal/urlnorm"
)

const (
	defaultRequestTimeout = 60 * time.Second
	frontierTimeout       = 5 * time.Second
	maxSeedsPerRequest    = 1000
)

// Seeder adds root URLs to the frontier.
type Seeder interface {
	Seed(ctx context.Context, rawURLs []string) ([]scheduler.SeedResult, error)
}

// SessionState reports the scheduler's current session.
type SessionState interface {
	SessionID() string
	Running() bool
}

// Options wire a Server. Seeder, State and Sessions may be nil; their routes
// then answer 503.
type Options struct {
	Frontier   frontier.Store
	Normalizer *urlnorm.Normalizer
	Seeder     Seeder
	State      SessionState
	Sessions   store.SessionRepository
	// APIKey, when set, is required on every /v1 route.
	APIKey         string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the frontier and session stores.
type Server struct {
	router   chi.Router
	opts     Options
	sessions *SessionHandler
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		opts:     opts,
		sessions: NewSessionHandler(opts.Sessions, opts.Logger.Named("sessions")),
		logger:   opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(opts.Logger))
	r.Use(middleware.Recover(opts.Logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		if opts.APIKey != "" {
			r.Use(middleware.APIKey(opts.APIKey))
		}
		r.Get("/frontier/stats", s.frontierStats)
		r.Get("/frontier/lookup", s.frontierLookup)
		r.Post("/seeds", s.submitSeeds)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.sessions.ListSessions)
			r.Get("/{session_id}", s.sessions.GetSession)
			r.Get("/{session_id}/hosts", s.sessions.ListSessionHosts)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz checks that the frontier backend answers.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Frontier == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), frontierTimeout)
	defer cancel()
	if _, err := s.opts.Frontier.Stats(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		middleware.WriteError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type sessionStateDTO struct {
	ID      string `json:"id,omitempty"`
	Running bool   `json:"running"`
}

type frontierStatsDTO struct {
	States  map[string]int   `json:"states"`
	Total   int              `json:"total"`
	Session *sessionStateDTO `json:"session,omitempty"`
}

func (s *Server) frontierStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Frontier == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), frontierTimeout)
	defer cancel()
	stats, err := s.opts.Frontier.Stats(ctx)
	if err != nil {
		s.logger.Error("frontier stats failed", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "failed to load frontier stats")
		return
	}
	out := frontierStatsDTO{States: make(map[string]int, len(frontier.States)), Total: stats.Total()}
	for _, state := range frontier.States {
		out.States[string(state)] = stats[state]
	}
	if s.opts.State != nil {
		out.Session = &sessionStateDTO{ID: s.opts.State.SessionID(), Running: s.opts.State.Running()}
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

type entryDTO struct {
	Key            string                 `json:"key"`
	URL            string                 `json:"url"`
	Host           string                 `json:"host"`
	Class          string                 `json:"class,omitempty"`
	Source         string                 `json:"source"`
	State          string                 `json:"state"`
	Depth          int                    `json:"depth"`
	Score          float64                `json:"score"`
	Inlinks        int                    `json:"inlinks"`
	Attempts       int                    `json:"attempts"`
	LastOutcome    string                 `json:"last_outcome,omitempty"`
	LastStatus     int                    `json:"last_status,omitempty"`
	LastError      string                 `json:"last_error,omitempty"`
	ContentHash    string                 `json:"content_hash,omitempty"`
	RedirectTarget string                 `json:"redirect_target,omitempty"`
	NextEligibleAt time.Time              `json:"next_eligible_at"`
	DiscoveredAt   time.Time              `json:"discovered_at"`
	Redirects      []frontier.RedirectHop `json:"redirects,omitempty"`
	OutLinks       int                    `json:"out_links"`
}

// frontierLookup handles GET /v1/frontier/lookup?url=. The URL is normalized
// first, so any spelling of a known URL finds its entry.
func (s *Server) frontierLookup(w http.ResponseWriter, r *http.Request) {
	if s.opts.Frontier == nil || s.opts.Normalizer == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "frontier unavailable")
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		middleware.WriteError(w, http.StatusBadRequest, "url is required")
		return
	}
	u, err := s.opts.Normalizer.Normalize(raw, "")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), frontierTimeout)
	defer cancel()

	entry, found, err := s.opts.Frontier.Lookup(ctx, u.Key)
	if err != nil {
		s.logger.Error("frontier lookup failed", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "failed to look up url")
		return
	}
	if !found {
		middleware.WriteError(w, http.StatusNotFound, "url not in frontier")
		return
	}
	hops, err := s.opts.Frontier.Redirects(ctx, entry.Key)
	if err != nil {
		s.logger.Warn("load redirects failed", zap.Error(err))
	}
	links, err := s.opts.Frontier.OutLinks(ctx, entry.Key)
	if err != nil {
		s.logger.Warn("load out links failed", zap.Error(err))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"entry": entryDTO{
		Key:            entry.Key,
		URL:            entry.URL,
		Host:           entry.Host,
		Class:          entry.Class,
		Source:         string(entry.Source),
		State:          string(entry.State),
		Depth:          entry.Depth,
		Score:          entry.Score,
		Inlinks:        entry.Inlinks,
		Attempts:       entry.Attempts,
		LastOutcome:    entry.LastOutcome,
		LastStatus:     entry.LastStatus,
		LastError:      entry.LastError,
		ContentHash:    entry.ContentHash,
		RedirectTarget: entry.RedirectTarget,
		NextEligibleAt: entry.NextEligibleAt,
		DiscoveredAt:   entry.DiscoveredAt,
		Redirects:      hops,
		OutLinks:       len(links),
	}})
}

type seedRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) submitSeeds(w http.ResponseWriter, r *http.Request) {
	if s.opts.Seeder == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "seeding unavailable")
		return
	}
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxSeedsPerRequest {
		middleware.WriteError(w, http.StatusBadRequest, "too many urls")
		return
	}
	results, err := s.opts.Seeder.Seed(r.Context(), req.URLs)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.logger.Error("seed frontier failed", zap.Error(err))
		middleware.WriteError(w, status, "failed to seed frontier")
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]any{"seeds": results})
}
