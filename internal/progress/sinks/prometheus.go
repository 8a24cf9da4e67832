package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/frontier-crawler/internal/progress"
)

// PrometheusSink exports session lifecycle and per-host fetch progress.
type PrometheusSink struct {
	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionsRunning  prometheus.Gauge
	sessionRuntime   *prometheus.HistogramVec

	hostFetches *prometheus.CounterVec
	hostBytes   *prometheus.CounterVec
	hostLatency *prometheus.HistogramVec

	mu      sync.Mutex
	running map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_progress_sessions_started_total",
			Help: "Crawl sessions that have started.",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_progress_sessions_finished_total",
			Help: "Crawl sessions that finished, labeled by result.",
		}, []string{"result"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_progress_sessions_running",
			Help: "Crawl sessions currently running.",
		}),
		sessionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_progress_session_runtime_seconds",
			Help:    "Wall time per finished session.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"result"}),
		hostFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_progress_host_fetches_total",
			Help: "Fetch completions by host and status class.",
		}, []string{"host", "status_class"}),
		hostBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_progress_host_bytes_total",
			Help: "Bytes downloaded per host.",
		}, []string{"host"}),
		hostLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_progress_host_fetch_seconds",
			Help:    "Fetch latency by host and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"host", "status_class"}),
		running: make(map[[16]byte]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsFinished,
		s.sessionsRunning,
		s.sessionRuntime,
		s.hostFetches,
		s.hostBytes,
		s.hostLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSessionStart:
			s.sessionsStarted.Inc()
			if s.track(evt.SessionID, true) {
				s.sessionsRunning.Inc()
			}
		case progress.StageSessionDone:
			s.finish(evt, "success")
		case progress.StageSessionError:
			s.finish(evt, "error")
		case progress.StageFetchDone:
			s.fetched(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.sessionsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.sessionRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.SessionID, false) {
		s.sessionsRunning.Dec()
	}
}

func (s *PrometheusSink) fetched(evt progress.Event) {
	host := evt.Host
	if host == "" {
		host = "unknown"
	}
	class := string(evt.StatusClass)
	if class == "" {
		class = string(progress.StatusOther)
	}
	s.hostFetches.WithLabelValues(host, class).Inc()
	if evt.Bytes > 0 {
		s.hostBytes.WithLabelValues(host).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.hostLatency.WithLabelValues(host, class).Observe(evt.Dur.Seconds())
	}
}

// track records a session as running (start=true) or finished and reports
// whether the set changed.
func (s *PrometheusSink) track(id [16]byte, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		s.running[id] = struct{}{}
		return !ok
	}
	delete(s.running, id)
	return ok
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
