package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/progress"
	"github.com/JakeFAU/frontier-crawler/internal/store"
)

// StoreSink persists session lifecycle and host aggregates through a
// store.SessionRepository. Fetch events are collapsed per
// (session, host, status class) before each write.
type StoreSink struct {
	repo   store.SessionRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.SessionRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type hostKey struct {
	session uuid.UUID
	host    string
	class   string
}

type hostDelta struct {
	visits int64
	bytes  int64
	at     time.Time
}

// Consume implements progress.Sink. Session starts are written before host
// deltas and completions after them, so a single batch covering a whole short
// session lands in order.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[hostKey]*hostDelta)
	var finals []progress.Event

	for _, evt := range batch {
		id := evt.SessionUUID()
		switch evt.Stage {
		case progress.StageSessionStart:
			if err := s.repo.UpsertSessionStart(ctx, id, evt.TS); err != nil {
				return fmt.Errorf("upsert session start: %w", err)
			}
		case progress.StageSessionDone, progress.StageSessionError:
			finals = append(finals, evt)
		case progress.StageFetchDone:
			addHostDelta(deltas, id, evt)
		}
	}

	for key, d := range deltas {
		if err := s.repo.UpsertHostStats(ctx, key.session, key.host, d.visits, d.bytes, key.class, d.at); err != nil {
			return fmt.Errorf("upsert host stats: %w", err)
		}
	}

	for _, evt := range finals {
		status, errMsg := sessionStatus(evt)
		counters := store.Counters{
			Fetched:    evt.Counters.Fetched,
			Redirected: evt.Counters.Redirected,
			Retried:    evt.Counters.Retried,
			Abandoned:  evt.Counters.Abandoned,
		}
		if err := s.repo.CompleteSession(ctx, evt.SessionUUID(), evt.TS, status, counters, errMsg); err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
	}
	return nil
}

func sessionStatus(evt progress.Event) (store.SessionStatus, *string) {
	if evt.Stage == progress.StageSessionError {
		note := evt.Note
		return store.SessionError, &note
	}
	if evt.Outcome == progress.OutcomeCanceled {
		return store.SessionCanceled, nil
	}
	return store.SessionSuccess, nil
}

// addHostDelta folds a fetch event into deltas. Fetches without an HTTP
// status have no column in the host table and are skipped.
func addHostDelta(deltas map[hostKey]*hostDelta, id uuid.UUID, evt progress.Event) {
	if evt.Host == "" || evt.StatusClass == "" || evt.StatusClass == progress.StatusOther {
		return
	}
	key := hostKey{session: id, host: evt.Host, class: string(evt.StatusClass)}
	d := deltas[key]
	if d == nil {
		d = &hostDelta{}
		deltas[key] = d
	}
	d.visits += evt.Visits
	d.bytes += evt.Bytes
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
