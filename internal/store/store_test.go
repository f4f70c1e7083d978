package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/engine"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func env(caseID string, seq int64, kind string, data string) engine.Envelope {
	return engine.Envelope{
		CaseID:  caseID,
		Seq:     seq,
		Kind:    kind,
		Version: 1,
		Data:    json.RawMessage(data),
	}
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.AppendBatch(context.Background(), []engine.Envelope{
		env("c-1", 1, "case.started", `{"definition":"travel"}`),
	}))
	require.NoError(t, s.Close())

	// Reopening runs the schema and migrations again without damage.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	last, err := s.LastSeq(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestOpen_SetsSchemaVersion(t *testing.T) {
	s := setupTestStore(t)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var name string
	err := s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_events_kind'`,
	).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "idx_events_kind", name)
}

func TestAppendBatch_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	batch := []engine.Envelope{
		env("c-1", 1, "case.started", `{"definition":"travel","user":"alice"}`),
		env("c-1", 2, "planitem.created", `{"itemId":"item-1"}`),
		env("c-1", 3, "case.modified", `{"modifiedAt":"2026-03-14T09:26:53Z"}`),
	}
	require.NoError(t, s.AppendBatch(ctx, batch))

	got, err := s.Replay(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, batch, got)

	last, err := s.LastSeq(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestAppendBatch_EmptyBatchIsNoop(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.AppendBatch(context.Background(), nil))

	cases, err := s.Cases(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestAppendBatch_RetryLandsOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	batch := []engine.Envelope{
		env("c-1", 1, "case.started", `{"definition":"travel"}`),
		env("c-1", 2, "case.modified", `{"modifiedAt":"2026-03-14T09:26:53Z"}`),
	}
	require.NoError(t, s.AppendBatch(ctx, batch))
	require.NoError(t, s.AppendBatch(ctx, batch))

	got, err := s.Replay(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAppendBatch_ConflictKeepsFirstWrite(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendBatch(ctx, []engine.Envelope{
		env("c-1", 1, "case.started", `{"definition":"travel"}`),
	}))
	require.NoError(t, s.AppendBatch(ctx, []engine.Envelope{
		env("c-1", 1, "case.started", `{"definition":"other"}`),
	}))

	got, err := s.Replay(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"definition":"travel"}`, string(got[0].Data))
}

func TestReplay_UnknownCaseIsEmpty(t *testing.T) {
	s := setupTestStore(t)

	got, err := s.Replay(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, got)

	last, err := s.LastSeq(context.Background(), "nope")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestReplay_OrdersBySequence(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Two batches, second appended first by a retry pattern.
	require.NoError(t, s.AppendBatch(ctx, []engine.Envelope{
		env("c-1", 3, "planitem.transitioned", `{}`),
		env("c-1", 4, "case.modified", `{"modifiedAt":"2026-03-14T10:00:00Z"}`),
	}))
	require.NoError(t, s.AppendBatch(ctx, []engine.Envelope{
		env("c-1", 1, "case.started", `{"definition":"travel"}`),
		env("c-1", 2, "case.modified", `{"modifiedAt":"2026-03-14T09:26:53Z"}`),
	}))

	got, err := s.Replay(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestCases_ListsSortedIDs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, s.AppendBatch(ctx, []engine.Envelope{
			env(id, 1, "case.started", `{"definition":"travel"}`),
		}))
	}

	cases, err := s.Cases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mike", "zulu"}, cases)
}

func TestSummaries_TrackDefinitionAndModification(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendBatch(ctx, []engine.Envelope{
		env("c-1", 1, "case.started", `{"definition":"travel"}`),
		env("c-1", 2, "case.modified", `{"modifiedAt":"2026-03-14T09:26:53Z"}`),
	}))
	require.NoError(t, s.AppendBatch(ctx, []engine.Envelope{
		env("c-1", 3, "planitem.transitioned", `{}`),
		env("c-1", 4, "case.modified", `{"modifiedAt":"2026-03-14T10:00:00Z"}`),
	}))

	summaries, err := s.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "c-1", summaries[0].CaseID)
	assert.Equal(t, "travel", summaries[0].Definition)
	assert.Equal(t, int64(4), summaries[0].LastSeq)
	assert.Equal(t, "2026-03-14T10:00:00Z", summaries[0].ModifiedAt)
}
