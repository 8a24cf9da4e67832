package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	id := UUIDToBytes(uuid.New())
	hub.Emit(sessionEvent(id, StageSessionStart))
	hub.Emit(fetchEvent(id, "example.com", 200))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesPartialBatchAfterWait(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(sessionEvent(UUIDToBytes(uuid.New()), StageSessionStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitDropsWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{Logger: zap.NewNop()},
		events: make(chan Event),
	}
	start := time.Now()
	hub.Emit(sessionEvent(UUIDToBytes(uuid.New()), StageSessionStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Dropped())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Stage: StageSessionStart, TS: time.Now()})
	hub.Emit(Event{SessionID: UUIDToBytes(uuid.New()), Stage: StageFetchDone, TS: time.Now()})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.True(t, sink.Closed())
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sessionEvent(UUIDToBytes(uuid.New()), StageSessionStart))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())

	hub.Emit(sessionEvent(UUIDToBytes(uuid.New()), StageSessionDone))
	require.Len(t, sink.Batches(), 1)
}

func TestHubSinkErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	failing := sinkFunc(func(context.Context, []Event) error { return errors.New("boom") })
	ok := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, failing, ok)
	hub.Emit(sessionEvent(UUIDToBytes(uuid.New()), StageSessionStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, ok.Batches(), 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := UUIDToBytes(uuid.New())
	require.NoError(t, sessionEvent(id, StageSessionDone).Validate())
	require.NoError(t, fetchEvent(id, "example.com", 503).Validate())

	missingHost := fetchEvent(id, "", 200)
	require.ErrorContains(t, missingHost.Validate(), "host")

	unknown := sessionEvent(id, Stage("NOPE"))
	require.ErrorContains(t, unknown.Validate(), "unknown stage")

	negative := sessionEvent(id, StageSessionDone)
	negative.Dur = -time.Second
	require.Error(t, negative.Validate())
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status2xx, ClassifyStatus(204))
	require.Equal(t, Status3xx, ClassifyStatus(301))
	require.Equal(t, Status4xx, ClassifyStatus(404))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *recordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sessionEvent(id [16]byte, stage Stage) Event {
	return Event{SessionID: id, TS: time.Now(), Stage: stage}
}

func fetchEvent(id [16]byte, host string, status int) Event {
	return Event{
		SessionID:   id,
		TS:          time.Now(),
		Stage:       StageFetchDone,
		Host:        host,
		Outcome:     "fetched",
		Visits:      1,
		StatusClass: ClassifyStatus(status),
	}
}
