package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mvistore/internal/engine"
	"github.com/roach88/mvistore/internal/journal"
)

const sampleIntents = `# warm up
increment
add 5

decrement
reset
decrement
`

func TestRunFromStdin(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})

	out, _, err := execute(t, cmd, sampleIntents)

	require.NoError(t, err)
	assert.Contains(t, out, "action: was_reset(5)")
	assert.Contains(t, out, "action: went_negative(-1)")
	assert.Contains(t, out, "final state: Count(-1)")
	assert.NotContains(t, out, "run:", "no journal, no run id")
}

func TestRunJSON(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "json"})

	out, _, err := execute(t, cmd, "increment\nincrement\nincrement\n")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "counter", resp.Data.Store)
	assert.Equal(t, 3, resp.Data.Intents)
	assert.Equal(t, "Count(3)", resp.Data.FinalState)
	assert.Empty(t, resp.Data.Actions)
}

func TestRunSkipsBadLines(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})

	out, errOut, err := execute(t, cmd, "increment\njump\nadd x\nincrement\n")

	require.NoError(t, err)
	assert.Contains(t, out, "final state: Count(2)")
	assert.Contains(t, errOut, "skipping line")
}

func TestRunRecoveredFailure(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})

	out, _, err := execute(t, cmd, "increment\nfail\nincrement\n")

	require.NoError(t, err)
	assert.Contains(t, out, "action: failed(1)")
	assert.Contains(t, out, "final state: Count(2)")
}

func TestRunWithJournal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}, IDs: engine.NewFixedGenerator("run-1")}
	cmd := newRunCommand(opts)

	out, _, err := execute(t, cmd, "increment\nadd 2\n", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "final state: Count(3)")
	assert.Contains(t, out, "run: run-1")

	jr, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer jr.Close()

	run, err := jr.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "counter", run.Store)
	assert.True(t, run.Finished)
	assert.Empty(t, run.Error)

	intents, err := jr.Records(context.Background(), "run-1", journal.KindIntent)
	require.NoError(t, err)
	assert.Len(t, intents, 2)
}

func TestRunConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "store.cue")
	cfg := `name: "tally"
actions: strategy: "broadcast"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	cmd := NewRunCommand(&RootOptions{Format: "json"})
	out, _, err := execute(t, cmd, "decrement\n", "--config", cfgPath)
	require.NoError(t, err)

	var resp struct {
		Data RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "tally", resp.Data.Store)
	assert.Equal(t, []string{"went_negative(-1)"}, resp.Data.Actions)
}

func TestRunInvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`intents: overflow: "sideways"`), 0644))

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	_, _, err := execute(t, cmd, "", "--config", cfgPath)

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunMissingConfig(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	_, _, err := execute(t, cmd, "", "--config", filepath.Join(t.TempDir(), "nope.cue"))

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunWithMetricsAndTrace(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})

	out, errOut, err := execute(t, cmd, "increment\n", "--metrics-addr", "127.0.0.1:0", "--trace")

	require.NoError(t, err)
	assert.Contains(t, out, "final state: Count(1)")
	assert.Contains(t, errOut, "serving metrics")
	assert.Contains(t, errOut, "mvi.intent", "spans are exported to stderr")
}
