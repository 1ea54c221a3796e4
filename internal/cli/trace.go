package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mvistore/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string   // optional - defaults to the latest run
	Kinds    []string // optional - filter record kinds
	List     bool     // list runs instead of records
}

// TraceRecord is one journal record in trace output.
type TraceRecord struct {
	Seq     int64           `json:"seq"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run     journal.Run   `json:"run"`
	Records []TraceRecord `json:"records"`
	Stats   TraceStats    `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Records     int  `json:"records"`
	Intents     int  `json:"intents"`
	Actions     int  `json:"actions"`
	States      int  `json:"states"`
	Exceptions  int  `json:"exceptions"`
	Undelivered int  `json:"undelivered"`
	Finished    bool `json:"finished"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journal of a run",
		Long: `Print the records journaled for a run, in order.

Each record is one hook the store went through: start, intent, state,
action, exception, subscriber changes, undelivered intents and actions,
and stop. Use --list to see the runs a journal holds.

Examples:
  mvistore trace --db ./journal.db
  mvistore trace --db ./journal.db --run 0190c7d4-... --kind intent --kind action
  mvistore trace --db ./journal.db --list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to show (default: latest)")
	cmd.Flags().StringSliceVar(&opts.Kinds, "kind", nil, "only show records of this kind (repeatable)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list runs")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	jr, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer jr.Close()

	if opts.List {
		return listRuns(ctx, jr, formatter)
	}

	kinds, err := parseKinds(opts.Kinds)
	if err != nil {
		return err
	}

	run, err := selectRun(ctx, jr, opts.RunID)
	if err != nil {
		return err
	}

	records, err := jr.Records(ctx, run.ID, kinds...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}

	result := TraceResult{
		Run:     run,
		Records: make([]TraceRecord, 0, len(records)),
		Stats:   TraceStats{Finished: run.Finished},
	}
	for _, rec := range records {
		result.Records = append(result.Records, TraceRecord{Seq: rec.Seq, Kind: string(rec.Kind), Payload: rec.Payload})
		result.Stats.add(rec.Kind)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result)
	return nil
}

func (s *TraceStats) add(kind journal.Kind) {
	s.Records++
	switch kind {
	case journal.KindIntent:
		s.Intents++
	case journal.KindAction:
		s.Actions++
	case journal.KindState:
		s.States++
	case journal.KindException:
		s.Exceptions++
	case journal.KindUndeliveredIntent, journal.KindUndeliveredAction:
		s.Undelivered++
	}
}

var knownKinds = []journal.Kind{
	journal.KindStart,
	journal.KindIntent,
	journal.KindAction,
	journal.KindState,
	journal.KindException,
	journal.KindUndeliveredIntent,
	journal.KindUndeliveredAction,
	journal.KindSubscribers,
	journal.KindStop,
}

func parseKinds(names []string) ([]journal.Kind, error) {
	kinds := make([]journal.Kind, 0, len(names))
	for _, name := range names {
		found := false
		for _, k := range knownKinds {
			if string(k) == name {
				kinds = append(kinds, k)
				found = true
				break
			}
		}
		if !found {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown record kind %q", name))
		}
	}
	return kinds, nil
}

func listRuns(ctx context.Context, jr *journal.Journal, formatter *OutputFormatter) error {
	runs, err := jr.Runs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if formatter.JSON() {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs found in journal.")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(formatter.Writer, "%s  %-12s %s\n", run.ID, run.Store, runStatus(run))
	}
	return nil
}

func runStatus(run journal.Run) string {
	switch {
	case !run.Finished:
		return "running"
	case run.Error != "":
		return "failed: " + run.Error
	default:
		return "ok"
	}
}

func outputTraceText(w io.Writer, result TraceResult) {
	fmt.Fprintf(w, "Run %s (%s): %s\n", result.Run.ID, result.Run.Store, runStatus(result.Run))
	if len(result.Records) == 0 {
		fmt.Fprintln(w, "  no records")
		return
	}
	for _, rec := range result.Records {
		fmt.Fprintf(w, "  [%d] %-18s %s\n", rec.Seq, rec.Kind, formatPayload(rec.Payload))
	}

	s := result.Stats
	fmt.Fprintf(w, "\n%d record(s): %d intent(s), %d state(s), %d action(s), %d exception(s), %d undelivered\n",
		s.Records, s.Intents, s.States, s.Actions, s.Exceptions, s.Undelivered)
}

// formatPayload renders a payload on one line.
func formatPayload(payload json.RawMessage) string {
	s := strings.TrimSpace(string(payload))
	if s == "" || s == "null" {
		return "-"
	}
	return s
}
