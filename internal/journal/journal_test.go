package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mvistore/internal/engine"
)

func openTestJournal(t *testing.T, opts ...Option) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, path
}

func TestOpen_CreatesDatabase(t *testing.T) {
	_, path := openTestJournal(t)

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_Pragmas(t *testing.T) {
	j, _ := openTestJournal(t)

	assert.NoError(t, j.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, j.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, j.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 3; i++ {
		j, err := Open(path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, j.Close())
	}
}

func TestJournal_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	j, _ := openTestJournal(t, WithIDGenerator(engine.NewFixedGenerator("run-1")))

	run, err := j.BeginRun(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)

	_, err = j.Append(ctx, run.ID, KindStart, nil)
	require.NoError(t, err)
	_, err = j.Append(ctx, run.ID, KindIntent, map[string]any{"kind": "increment"})
	require.NoError(t, err)
	_, err = j.Append(ctx, run.ID, KindState, map[string]any{"count": 1})
	require.NoError(t, err)

	records, err := j.Records(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)

	var kinds []Kind
	for i, rec := range records {
		kinds = append(kinds, rec.Kind)
		if i > 0 {
			assert.Greater(t, rec.Seq, records[i-1].Seq)
		}
	}
	assert.Equal(t, []Kind{KindStart, KindIntent, KindState}, kinds)

	var intent struct{ Kind string }
	require.NoError(t, records[1].Decode(&intent))
	assert.Equal(t, "increment", intent.Kind)
}

func TestJournal_RecordsFilteredByKind(t *testing.T) {
	ctx := context.Background()
	j, _ := openTestJournal(t)
	run, err := j.BeginRun(ctx, "s")
	require.NoError(t, err)

	for _, k := range []Kind{KindIntent, KindState, KindIntent, KindAction} {
		_, err := j.Append(ctx, run.ID, k, "x")
		require.NoError(t, err)
	}

	intents, err := j.Records(ctx, run.ID, KindIntent)
	require.NoError(t, err)
	assert.Len(t, intents, 2)

	none, err := j.Records(ctx, "missing")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestJournal_AppendRequiresRun(t *testing.T) {
	j, _ := openTestJournal(t)

	_, err := j.Append(context.Background(), "nope", KindIntent, 1)
	assert.Error(t, err, "foreign key rejects records of unknown runs")
}

func TestJournal_Runs(t *testing.T) {
	ctx := context.Background()
	j, _ := openTestJournal(t, WithIDGenerator(engine.NewFixedGenerator("a", "b")))

	_, err := j.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = j.BeginRun(ctx, "s")
	require.NoError(t, err)
	_, err = j.BeginRun(ctx, "s")
	require.NoError(t, err)
	require.NoError(t, j.FinishRun(ctx, "a", errors.New("boom")))

	runs, err := j.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].ID)
	assert.True(t, runs[0].Finished)
	assert.Equal(t, "boom", runs[0].Error)
	assert.False(t, runs[1].Finished)

	latest, err := j.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", latest.ID)

	got, err := j.GetRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, runs[0], got)

	_, err = j.GetRun(ctx, "zzz")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, j.FinishRun(ctx, "zzz", nil), ErrRunNotFound)
}

func TestJournal_ReopenResumesSeq(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path, WithIDGenerator(engine.NewFixedGenerator("first")))
	require.NoError(t, err)
	run, err := j1.BeginRun(ctx, "s")
	require.NoError(t, err)
	last, err := j1.Append(ctx, run.ID, KindIntent, 1)
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	j2, err := Open(path, WithIDGenerator(engine.NewFixedGenerator("second")))
	require.NoError(t, err)
	defer j2.Close()

	next, err := j2.BeginRun(ctx, "s")
	require.NoError(t, err)
	assert.Greater(t, next.Seq, last.Seq)
}
