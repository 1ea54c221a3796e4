package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceLatestRun(t *testing.T) {
	dbPath := recordRun(t, "run-1", "increment\ndecrement\ndecrement\n")

	out, _, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "", "--db", dbPath)

	require.NoError(t, err)
	assert.Contains(t, out, "Run run-1 (counter): ok")
	assert.Contains(t, out, `{"kind":"increment"}`)
	assert.Contains(t, out, `{"kind":"went_negative","count":-1}`)
	assert.Contains(t, out, "3 intent(s)")
	assert.Contains(t, out, "1 action(s)")
}

func TestTraceKindFilterJSON(t *testing.T) {
	dbPath := recordRun(t, "run-1", "increment\nadd 4\nreset\n")

	out, _, err := execute(t, NewTraceCommand(&RootOptions{Format: "json"}), "",
		"--db", dbPath, "--run", "run-1", "--kind", "intent", "--kind", "action")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "run-1", resp.Data.Run.ID)
	assert.True(t, resp.Data.Stats.Finished)

	var kinds []string
	for _, rec := range resp.Data.Records {
		kinds = append(kinds, rec.Kind)
	}
	assert.Equal(t, []string{"intent", "intent", "intent", "action"}, kinds)
	assert.JSONEq(t, `{"kind":"add","amount":4}`, string(resp.Data.Records[1].Payload))
	assert.JSONEq(t, `{"kind":"was_reset","count":5}`, string(resp.Data.Records[3].Payload))

	for i := 1; i < len(resp.Data.Records); i++ {
		assert.Greater(t, resp.Data.Records[i].Seq, resp.Data.Records[i-1].Seq)
	}
}

func TestTraceListRuns(t *testing.T) {
	dbPath := recordRun(t, "run-1", "increment\n")

	out, _, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "", "--db", dbPath, "--list")

	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "counter")
	assert.Contains(t, out, "ok")
}

func TestTraceUnknownKind(t *testing.T) {
	dbPath := recordRun(t, "run-1", "increment\n")

	_, _, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "", "--db", dbPath, "--kind", "bogus")

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorContains(t, err, `unknown record kind "bogus"`)
}

func TestFormatPayload(t *testing.T) {
	assert.Equal(t, "-", formatPayload(nil))
	assert.Equal(t, "-", formatPayload(json.RawMessage("null")))
	assert.Equal(t, `"boom"`, formatPayload(json.RawMessage(`"boom"`)))
}
