package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/progress"
	"github.com/JakeFAU/frontier-crawler/internal/storage/memory"
	"github.com/JakeFAU/frontier-crawler/internal/store"
)

func TestStoreSinkPersistsSession(t *testing.T) {
	t.Parallel()

	repo := memory.NewSessionStore()
	sessionID := uuid.New()
	id := progress.UUIDToBytes(sessionID)
	now := time.Now().UTC()

	batch := []progress.Event{
		{SessionID: id, Stage: progress.StageSessionStart, TS: now},
		{
			SessionID: id, Stage: progress.StageFetchDone, Host: "example.com",
			Bytes: 100, Visits: 1, StatusClass: progress.Status2xx, TS: now.Add(time.Second),
		},
		{
			SessionID: id, Stage: progress.StageFetchDone, Host: "example.com",
			Bytes: 50, Visits: 1, StatusClass: progress.Status2xx, TS: now.Add(2 * time.Second),
		},
		{
			SessionID: id, Stage: progress.StageFetchDone, Host: "example.com",
			Visits: 1, StatusClass: progress.Status5xx, TS: now.Add(2 * time.Second),
		},
		{
			SessionID: id, Stage: progress.StageFetchDone, Host: "example.com",
			StatusClass: progress.StatusOther, TS: now.Add(2 * time.Second),
		},
		{
			SessionID: id, Stage: progress.StageSessionDone, TS: now.Add(3 * time.Second),
			Counters: progress.Counters{Fetched: 2, Retried: 1},
		},
	}
	require.NoError(t, NewStoreSink(repo, nil).Consume(context.Background(), batch))

	session, err := repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, store.SessionSuccess, session.Status)
	require.Equal(t, int64(2), session.Counters.Fetched)
	require.Equal(t, int64(1), session.Counters.Retried)

	hosts, err := repo.ListSessionHosts(context.Background(), sessionID, 10, 0)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	require.Equal(t, int64(3), hosts[0].Visits)
	require.Equal(t, int64(150), hosts[0].BytesTotal)
	require.Equal(t, int64(2), hosts[0].Fetch2xx)
	require.Equal(t, int64(1), hosts[0].Fetch5xx)
}

func TestStoreSinkMapsFinalStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event progress.Event
		want  store.SessionStatus
	}{
		{name: "error", event: progress.Event{Stage: progress.StageSessionError, Note: "boom"}, want: store.SessionError},
		{
			name:  "canceled",
			event: progress.Event{Stage: progress.StageSessionDone, Outcome: progress.OutcomeCanceled},
			want:  store.SessionCanceled,
		},
		{name: "success", event: progress.Event{Stage: progress.StageSessionDone}, want: store.SessionSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := memory.NewSessionStore()
			sessionID := uuid.New()
			now := time.Now().UTC()
			start := progress.Event{SessionID: progress.UUIDToBytes(sessionID), Stage: progress.StageSessionStart, TS: now}
			final := tt.event
			final.SessionID = start.SessionID
			final.TS = now.Add(time.Second)

			require.NoError(t, NewStoreSink(repo, nil).Consume(context.Background(), []progress.Event{start, final}))
			session, err := repo.GetSession(context.Background(), sessionID)
			require.NoError(t, err)
			require.Equal(t, tt.want, session.Status)
			if tt.want == store.SessionError {
				require.NotNil(t, session.ErrorMessage)
				require.Equal(t, "boom", *session.ErrorMessage)
			}
		})
	}
}

func TestStoreSinkSurfacesRepositoryErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(failingRepo{}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{SessionID: progress.UUIDToBytes(uuid.New()), Stage: progress.StageSessionStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "upsert session start")
}

func TestStoreSinkNilRepository(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewStoreSink(nil, nil).Consume(context.Background(), []progress.Event{{}}))
}

type failingRepo struct {
	store.SessionRepository
}

func (failingRepo) UpsertSessionStart(context.Context, uuid.UUID, time.Time) error {
	return errors.New("database unavailable")
}
