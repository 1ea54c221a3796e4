package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/mvistore/internal/counter"
	"github.com/roach88/mvistore/internal/engine"
	"github.com/roach88/mvistore/internal/journal"
	"github.com/roach88/mvistore/internal/plugins"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - defaults to the latest run
}

// ReplayResult compares a journaled run with its replay.
type ReplayResult struct {
	RunID           string   `json:"run_id"`
	Store           string   `json:"store"`
	Intents         int      `json:"intents"`
	RecordedState   string   `json:"recorded_state"`
	ReplayedState   string   `json:"replayed_state"`
	RecordedActions []string `json:"recorded_actions"`
	ReplayedActions []string `json:"replayed_actions"`
	Deterministic   bool     `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run a journaled run and verify determinism",
		Long: `Re-run the intents recorded for a run against a fresh counter store
and compare the outcome with the journal.

The replay passes when the final state and the sequence of actions match
what was recorded. Intents that were dropped during the original run were
never journaled and are not replayed.

Exit codes:
  0 - Replay matches the journal
  1 - Replay diverged from the journal
  2 - Command error (database or run not found, etc.)

Examples:
  mvistore replay --db ./journal.db
  mvistore replay --db ./journal.db --run 0190c7d4-...
  mvistore replay --db ./journal.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to replay (default: latest)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
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

	run, err := selectRun(ctx, jr, opts.RunID)
	if err != nil {
		return err
	}

	records, err := jr.Records(ctx, run.ID, journal.KindIntent, journal.KindAction, journal.KindState)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}

	recorded, err := decodeRecording(records)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to decode records", err)
	}
	formatter.VerboseLog("replaying %d intent(s) of run %s", len(recorded.intents), run.ID)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = newLogger(opts.RootOptions, formatter.GetErrWriter())
	}
	replayed, err := replayIntents(ctx, run.Store, recorded.intents, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	result := ReplayResult{
		RunID:           run.ID,
		Store:           run.Store,
		Intents:         len(recorded.intents),
		RecordedState:   recorded.state,
		ReplayedState:   replayed.state,
		RecordedActions: recorded.actions,
		ReplayedActions: replayed.actions,
	}
	result.Deterministic = result.RecordedState == result.ReplayedState &&
		slices.Equal(result.RecordedActions, result.ReplayedActions)

	if !result.Deterministic {
		if err := formatter.Failure(result, ErrCodeReplay, "replay diverged from the journal"); err != nil {
			return err
		}
		if !formatter.JSON() {
			outputReplayText(formatter.Writer, result)
		}
		return NewExitError(ExitFailure, "replay diverged from the journal")
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputReplayText(formatter.Writer, result)
	return nil
}

// openJournal opens an existing journal. journal.Open would create a
// missing file, which is never what a reading command wants.
func openJournal(path string) (*journal.Journal, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	jr, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return jr, nil
}

func selectRun(ctx context.Context, jr *journal.Journal, runID string) (journal.Run, error) {
	var run journal.Run
	var err error
	if runID != "" {
		run, err = jr.GetRun(ctx, runID)
	} else {
		run, err = jr.LatestRun(ctx)
	}
	if errors.Is(err, journal.ErrRunNotFound) {
		if runID == "" {
			return run, NewExitError(ExitCommandError, "no runs in journal")
		}
		return run, NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", runID))
	}
	if err != nil {
		return run, WrapExitError(ExitCommandError, "failed to read run", err)
	}
	return run, nil
}

// outcome is the observable result of a run: its last state and the
// actions it emitted.
type outcome struct {
	intents []counter.Intent
	state   string
	actions []string
}

func decodeRecording(records []journal.Record) (outcome, error) {
	out := outcome{state: counter.Loading.String(), actions: []string{}}
	for _, rec := range records {
		switch rec.Kind {
		case journal.KindIntent:
			var i counter.Intent
			if err := rec.Decode(&i); err != nil {
				return out, fmt.Errorf("record %d: %w", rec.Seq, err)
			}
			out.intents = append(out.intents, i)
		case journal.KindAction:
			var a counter.Action
			if err := rec.Decode(&a); err != nil {
				return out, fmt.Errorf("record %d: %w", rec.Seq, err)
			}
			out.actions = append(out.actions, a.String())
		case journal.KindState:
			var s counter.State
			if err := rec.Decode(&s); err != nil {
				return out, fmt.Errorf("record %d: %w", rec.Seq, err)
			}
			out.state = s.String()
		}
	}
	return out, nil
}

// replayIntents runs intents through a fresh counter store named name.
// Actions are observed as they enter the chain, the way the journal
// records them; nobody subscribes, so broadcast discards them.
func replayIntents(ctx context.Context, name string, intents []counter.Intent, logger *slog.Logger) (outcome, error) {
	cfg := engine.NewConfig(
		engine.WithName(name),
		engine.WithLogger(logger),
		engine.WithActions(engine.ActionsBroadcast, 0, engine.OverflowDropLatest),
	)
	progress := plugins.NewProgress()
	var mu sync.Mutex
	var actions []string
	observe := counter.Plugin{
		Name: "replay",
		OnAction: func(_ context.Context, _ counter.Pipeline, a counter.Action) (counter.Action, bool, error) {
			mu.Lock()
			actions = append(actions, a.String())
			mu.Unlock()
			return a, true, nil
		},
	}

	store, err := counter.New(cfg,
		counter.WithObservers(observe),
		counter.WithDecorators(plugins.Tracked[counter.State, counter.Intent, counter.Action](progress)),
	)
	if err != nil {
		return outcome{}, err
	}

	h, err := store.Start(ctx)
	if err != nil {
		return outcome{}, err
	}
	defer store.Close()

	sent := 0
	for _, intent := range intents {
		if err := store.Submit(ctx, intent); err != nil {
			if engine.IsUsage(err) {
				break
			}
			return outcome{}, err
		}
		sent++
	}
	if err := awaitProcessed(ctx, h, progress, sent); err != nil {
		return outcome{}, err
	}
	store.Close()
	<-h.Stopped()

	mu.Lock()
	defer mu.Unlock()
	return outcome{
		intents: intents,
		state:   store.State().String(),
		actions: append([]string{}, actions...),
	}, nil
}

func outputReplayText(w io.Writer, result ReplayResult) {
	fmt.Fprintf(w, "Run %s (%s): %d intent(s)\n", result.RunID, result.Store, result.Intents)
	fmt.Fprintf(w, "  recorded state: %s\n", result.RecordedState)
	fmt.Fprintf(w, "  replayed state: %s\n", result.ReplayedState)
	fmt.Fprintf(w, "  recorded actions: %v\n", result.RecordedActions)
	fmt.Fprintf(w, "  replayed actions: %v\n", result.ReplayedActions)
	if result.Deterministic {
		fmt.Fprintln(w, "✓ replay matches the journal")
	} else {
		fmt.Fprintln(w, "✗ replay diverged from the journal")
	}
}
