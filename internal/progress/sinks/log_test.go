package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/frontier-crawler/internal/progress"
)

func TestLogSinkWritesEvents(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	id := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SessionID: id, TS: time.Now(), Stage: progress.StageFetchDone, Host: "example.com", StatusClass: progress.Status2xx},
		{SessionID: id, TS: time.Now(), Stage: progress.StageSessionDone, Counters: progress.Counters{Fetched: 1}},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.DebugLevel, entries[0].Level)
	require.Equal(t, "example.com", entries[0].ContextMap()["host"])
	require.Equal(t, zap.InfoLevel, entries[1].Level)
	require.Equal(t, int64(1), entries[1].ContextMap()["fetched"])
}
