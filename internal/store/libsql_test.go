package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantelhq/triage/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	s, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestAppendEventAssignsPerRunSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, e := range []*Event{
		{RunID: "run-a", NodeID: "image_ingestion", Type: schema.EventNodeStarted},
		{RunID: "run-a", NodeID: "image_ingestion", Type: schema.EventNodeCompleted},
		{RunID: "run-b", Type: schema.EventRunStarted},
	} {
		require.NoError(t, s.AppendEvent(ctx, e))
	}

	a, err := s.GetEvents(ctx, "run-a", 0)
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Equal(t, int64(1), a[0].Sequence)
	assert.Equal(t, int64(2), a[1].Sequence)
	assert.Equal(t, schema.EventNodeStarted, a[0].Type)
	assert.Equal(t, "image_ingestion", a[0].NodeID)

	b, err := s.GetEvents(ctx, "run-b", 0)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, int64(1), b[0].Sequence, "sequences are per run")
}

func TestGetEventsSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-a", Type: schema.EventNodeCompleted}))
	}

	events, err := s.GetEvents(ctx, "run-a", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
	assert.Equal(t, int64(3), events[1].Sequence)
}

func TestAppendEventStoresPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, &Event{
		RunID:   "run-a",
		NodeID:  "ticket_search",
		Type:    schema.EventNodeFailed,
		Payload: []byte(`{"code":"CONNECTIVITY_ERROR"}`),
	}))

	events, err := s.GetEvents(ctx, "run-a", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"code":"CONNECTIVITY_ERROR"}`, string(events[0].Payload))
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-old", Type: schema.EventRunCompleted, Timestamp: old}))
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-new", Type: schema.EventRunCompleted}))

	pruned, err := s.PruneBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	remaining, err := s.GetEvents(ctx, "run-new", 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	gone, err := s.GetEvents(ctx, "run-old", 0)
	require.NoError(t, err)
	assert.Empty(t, gone)

	require.NoError(t, s.Vacuum(ctx))
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}
