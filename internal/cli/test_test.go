package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: counting
description: two increments
intents: [increment, increment]
expect:
  final_state: Count(2)
`

const failingScenario = `name: wrong
description: expects the wrong count
intents: [increment]
expect:
  final_state: Count(9)
`

func writeScenario(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestTestCommandPasses(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counting.yaml", passingScenario)

	out, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), "", dir)

	require.NoError(t, err)
	assert.Contains(t, out, "✓ counting")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandFailures(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counting.yaml", passingScenario)
	writeScenario(t, dir, "wrong.yaml", failingScenario)
	writeScenario(t, dir, "broken.yml", "name: [")

	out, _, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), "", dir)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 3, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 2, resp.Data.Failed)
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counting.yaml", passingScenario)
	writeScenario(t, dir, "wrong.yaml", failingScenario)

	out, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), "", dir, "--filter", "count*")

	require.NoError(t, err)
	assert.NotContains(t, out, "wrong")
}

func TestTestCommandGolden(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counting.yaml", passingScenario)

	out, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), "", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")

	goldenPath := filepath.Join(dir, "golden", "counting.golden")
	data, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name": "counting"`)

	_, _, err = execute(t, NewTestCommand(&RootOptions{Format: "text"}), "", dir)
	require.NoError(t, err, "a fresh golden file matches the next run")

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0644))
	out, _, err = execute(t, NewTestCommand(&RootOptions{Format: "text"}), "", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandEmptyAndMissing(t *testing.T) {
	out, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), "", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")

	_, _, err = execute(t, NewTestCommand(&RootOptions{Format: "text"}), "", "/nonexistent/scenarios")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("s", "golden", "a.golden"), goldenFilePath(filepath.Join("s", "a.yaml")))
}
