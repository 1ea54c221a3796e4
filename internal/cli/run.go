package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/roach88/mvistore/internal/config"
	"github.com/roach88/mvistore/internal/counter"
	"github.com/roach88/mvistore/internal/engine"
	"github.com/roach88/mvistore/internal/journal"
	"github.com/roach88/mvistore/internal/plugins"
)

// actionGrace bounds how long run waits for emitted actions to reach
// stdout before stopping the store.
const actionGrace = time.Second

// defaultStoreName names the counter store when the config leaves it empty.
const defaultStoreName = "counter"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config      string
	Database    string
	MetricsAddr string
	Trace       bool

	// IDs overrides engine and journal run ids (for testing).
	IDs engine.IDGenerator
}

// RunResult is what run reports once stdin is exhausted.
type RunResult struct {
	RunID      string   `json:"run_id,omitempty"`
	Store      string   `json:"store"`
	Intents    int      `json:"intents"`
	FinalState string   `json:"final_state"`
	Actions    []string `json:"actions"`
	Error      string   `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the counter store with intents read from stdin",
		Long: `Start the counter store and feed it one intent per stdin line.

Accepted intents: increment, decrement, reset, fail, add <n>. Blank lines
and lines starting with # are ignored. Actions are printed as they are
delivered; the final state is printed once stdin is exhausted.

Flags override the matching settings of the config file, which in turn
can be overridden by MVISTORE_* environment variables.

Examples:
  printf 'increment\nadd 5\n' | mvistore run
  mvistore run --db ./journal.db --config ./store.cue < intents.txt
  mvistore run --metrics-addr :9090 --trace`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStore(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to a CUE config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run into this SQLite journal")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "export intent spans to stderr")

	return cmd
}

func runStore(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	file, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	applyRunFlags(&file, opts, cmd)
	if file.Name == "" {
		file.Name = defaultStoreName
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	cfgOpts := []engine.ConfigOption{engine.WithLogger(logger)}
	if opts.IDs != nil {
		cfgOpts = append(cfgOpts, engine.WithIDGenerator(opts.IDs))
	}
	cfg, err := file.EngineConfig(cfgOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := plugins.NewProgress()
	var emitted atomic.Int64
	observers := []counter.Plugin{
		plugins.Logging[counter.State, counter.Intent, counter.Action](logger, slog.LevelDebug),
		countActions(&emitted),
	}
	decorators := []counter.Decorator{plugins.Tracked[counter.State, counter.Intent, counter.Action](progress)}

	var jr *journal.Journal
	if file.Journal != "" {
		var jopts []journal.Option
		if opts.IDs != nil {
			jopts = append(jopts, journal.WithIDGenerator(opts.IDs))
		}
		jr, err = journal.Open(file.Journal, jopts...)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if err := jr.Close(); err != nil {
				logger.Error("error closing journal", "error", err)
			}
		}()
		observers = append(observers, plugins.Journal[counter.State, counter.Intent, counter.Action](jr))
	}

	if file.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err := plugins.NewMetrics(reg, "mvistore")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to register metrics", err)
		}
		shutdown, err := serveMetrics(file.MetricsAddr, reg, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer shutdown()
		observers = append(observers, plugins.MetricsPlugin[counter.State, counter.Intent, counter.Action](m, file.Name))
		decorators = append(decorators, plugins.Timed[counter.State, counter.Intent, counter.Action](m))
	}

	if file.Trace {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(cmd.ErrOrStderr()), stdouttrace.WithPrettyPrint())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create trace exporter", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
		decorators = append(decorators, plugins.Traced[counter.State, counter.Intent, counter.Action](tp))
	}

	store, err := counter.New(cfg, counter.WithObservers(observers...), counter.WithDecorators(decorators...))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create store", err)
	}

	printer := &actionPrinter{w: formatter.Writer, echo: !formatter.JSON()}
	sub, err := store.Subscribe(ctx, nil, printer.add)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to subscribe", err)
	}
	defer sub.Close()

	h, err := store.Start(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start store", err)
	}
	if err := h.AwaitStartup(ctx); err != nil && !errors.Is(err, context.Canceled) {
		store.Close()
		<-h.Stopped()
		return WrapExitError(ExitFailure, "store failed to start", err)
	}

	sent := feedIntents(ctx, store, cmd.InOrStdin(), logger)
	if err := awaitProcessed(ctx, h, progress, sent); err != nil && ctx.Err() == nil {
		logger.Warn("stopped waiting for intents", "error", err)
	}

	printer.wait(ctx, int(emitted.Load()), actionGrace)

	store.Close()
	<-h.Stopped()
	sub.Close()

	result := RunResult{
		Store:      file.Name,
		Intents:    sent,
		FinalState: store.State().String(),
		Actions:    printer.get(),
	}
	if jr != nil {
		if run, err := jr.LatestRun(context.WithoutCancel(ctx)); err == nil {
			result.RunID = run.ID
		}
	}

	if stopErr := h.Err(); stopErr != nil {
		result.Error = stopErr.Error()
		if err := formatter.Failure(result, ErrCodeStore, stopErr.Error()); err != nil {
			return err
		}
		if !formatter.JSON() {
			printer.printf("final state: %s\n", result.FinalState)
		}
		return WrapExitError(ExitFailure, "store stopped with error", stopErr)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	printer.printf("final state: %s\n", result.FinalState)
	if result.RunID != "" {
		printer.printf("run: %s\n", result.RunID)
	}
	return nil
}

// applyRunFlags lets explicitly set flags win over the config file.
func applyRunFlags(file *config.File, opts *RunOptions, cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		file.Journal = opts.Database
	}
	if flags.Changed("metrics-addr") {
		file.MetricsAddr = opts.MetricsAddr
	}
	if flags.Changed("trace") {
		file.Trace = opts.Trace
	}
}

// feedIntents submits every intent line of r until r is exhausted, ctx is
// done or the store stops. It returns the number of intents the store
// took responsibility for.
func feedIntents(ctx context.Context, store *counter.Store, r io.Reader, logger *slog.Logger) int {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Error("reading intents", "error", err)
		}
	}()

	sent, lineNo := 0, 0
	for {
		var line string
		var ok bool
		select {
		case line, ok = <-lines:
			if !ok {
				return sent
			}
		case <-ctx.Done():
			return sent
		}
		lineNo++

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		intent, err := counter.ParseIntent(line)
		if err != nil {
			logger.Warn("skipping line", "line", lineNo, "error", err)
			continue
		}
		if err := store.Submit(ctx, intent); err != nil {
			if engine.IsUsage(err) || errors.Is(err, context.Canceled) {
				return sent
			}
			logger.Warn("intent not queued", "intent", intent.String(), "error", err)
		}
		sent++
	}
}

// awaitProcessed waits until n intents went through the chain or the run
// stopped on its own.
func awaitProcessed(ctx context.Context, h *engine.Handle, progress *plugins.Progress, n int) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- progress.Wait(wctx, n) }()

	select {
	case err := <-done:
		return err
	case <-h.Stopped():
		return nil
	}
}

// countActions counts actions entering the chain.
func countActions(n *atomic.Int64) counter.Plugin {
	return counter.Plugin{
		Name: "emitted",
		OnAction: func(_ context.Context, _ counter.Pipeline, a counter.Action) (counter.Action, bool, error) {
			n.Add(1)
			return a, true, nil
		},
	}
}

// serveMetrics serves reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("error shutting down metrics server", "error", err)
		}
	}, nil
}

// actionPrinter collects delivered actions and, in text mode, echoes them.
// It serializes all writes to w.
type actionPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	echo    bool
	actions []string
}

func (p *actionPrinter) add(a counter.Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, a.String())
	if p.echo {
		fmt.Fprintf(p.w, "action: %s\n", a)
	}
}

// wait blocks until n actions were delivered, ctx is done or grace
// elapsed. Dropped actions never arrive, so the wait is bounded.
func (p *actionPrinter) wait(ctx context.Context, n int, grace time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		got := len(p.actions)
		p.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (p *actionPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *actionPrinter) get() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.actions...)
}
