package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/pacer/internal/config"
	"github.com/roach88/pacer/internal/emitter"
	"github.com/roach88/pacer/internal/metrics"
	"github.com/roach88/pacer/internal/record"
	"github.com/roach88/pacer/internal/sink"
	"github.com/roach88/pacer/internal/source"
	"github.com/roach88/pacer/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string

	// Flag values. Each overrides the config only when its flag was set.
	Speed       int
	StartTime   string
	InputFormat string
	TimeField   string
	TimeColumn  string
	TimeUnit    string
	TimeLayout  string
	Output      string
	Envelope    bool
	Database    string
	MetricsAddr string

	// Environ replaces the process environment for PACER_* overrides (for testing).
	Environ map[string]string

	// Waiter overrides the pacing waiter (for testing).
	// If nil, defaults to emitter.TimerWaiter.
	Waiter emitter.Waiter

	// RunIDGenerator overrides the run ID generator (for testing).
	// If nil, defaults to store.UUIDv7Generator.
	RunIDGenerator store.RunIDGenerator

	// OnMetricsListen is called with the bound metrics address (for testing).
	OnMetricsListen func(addr string)
}

// RunSummary is the outcome of a replay.
type RunSummary struct {
	RunID         string `json:"run_id"`
	Source        string `json:"source"`
	Speed         int    `json:"speed"`
	State         string `json:"state"`
	Emitted       int64  `json:"emitted"`
	Discarded     int64  `json:"discarded"`
	Lines         int64  `json:"lines"`
	LastEventTime string `json:"last_event_time,omitempty"`
	Error         string `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [input]",
		Short: "Replay records at their original pace",
		Long: `Replay timestamped records from a file (plain or .gz) or stdin ("-").

Each record is emitted after the gap between its event time and the
previously emitted one, divided by the speed factor. Records older than
the last emitted one (or the start time) are discarded.

Configuration is merged from defaults, the --config file (.yaml or .cue),
PACER_* environment variables, and flags, in that order.

Exit codes:
  0 - Input exhausted or replay cancelled
  1 - Replay failed (decode, read, sink or release error)
  2 - Command error (invalid configuration, input not found, etc.)

Examples:
  pacer run events.jsonl
  pacer run --speed 10 --start-time 2024-01-01T00:00:00Z events.jsonl.gz
  pacer run --input-format csv --time-column ts --envelope events.csv
  cat events.jsonl | pacer run --db ./pacer.db --metrics-addr :9090 -`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (.yaml, .yml or .cue)")
	f.IntVar(&opts.Speed, "speed", 1, "speed factor (integer >= 1)")
	f.StringVar(&opts.StartTime, "start-time", "", "RFC 3339 baseline; earlier records are discarded")
	f.StringVar(&opts.InputFormat, "input-format", config.FormatJSON, "input format (json|csv)")
	f.StringVar(&opts.TimeField, "time-field", record.DefaultTimeField, "JSON field holding the event time (dotted path)")
	f.StringVar(&opts.TimeColumn, "time-column", "", "CSV column holding the event time (name or index)")
	f.StringVar(&opts.TimeUnit, "time-unit", "", "unit of numeric event times (ms|s)")
	f.StringVar(&opts.TimeLayout, "time-layout", "", "Go time layout of string event times (default RFC 3339)")
	f.StringVar(&opts.Output, "output", config.OutputStdout, "where to write records (stdout|none)")
	f.BoolVar(&opts.Envelope, "envelope", false, "wrap each record in a JSON envelope with seq, wait and record ID")
	f.StringVar(&opts.Database, "db", "", "path to SQLite emission log")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runReplay(opts *RunOptions, cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	slog.SetDefault(logger)

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.ErrOrStderr(),
		Verbose: opts.Verbose,
	}

	cfg, err := loadRunConfig(opts, cmd, args)
	if err != nil {
		_ = reportError(formatter, ErrCodeConfig, err)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	// Records own stdout unless discarded.
	if cfg.Output == config.OutputNone {
		formatter.Writer = cmd.OutOrStdout()
	}

	dec, err := cfg.Decoder()
	if err != nil {
		_ = reportError(formatter, ErrCodeConfig, err)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	start, _ := cfg.StartTimeValue() // checked by Validate

	genID := opts.RunIDGenerator
	if genID == nil {
		genID = store.UUIDv7Generator{}
	}
	runID := genID.Generate()
	logger = logger.With("run_id", runID)

	var m *metrics.Metrics
	emitterOpts := []emitter.Option{emitter.WithLogger(logger)}
	if start != nil {
		emitterOpts = append(emitterOpts, emitter.WithStartTime(*start))
	}
	if opts.Waiter != nil {
		emitterOpts = append(emitterOpts, emitter.WithWaiter(opts.Waiter))
	}
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		emitterOpts = append(emitterOpts, emitter.WithObserver(m))
	}

	src := inputSource(cfg.Input, cmd.InOrStdin())
	e, err := emitter.New[record.Event](src, dec, cfg.Speed, emitterOpts...)
	if err != nil {
		_ = reportError(formatter, ErrCodeConfig, err)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if err := e.Open(); err != nil {
		code := ErrCodeGeneric
		if errors.Is(err, os.ErrNotExist) {
			code = ErrCodeNotFound
		}
		_ = reportError(formatter, code, err)
		return WrapExitError(ExitCommandError, "failed to open input", err)
	}
	// Release the input on the early returns below.
	started := false
	defer func() {
		if !started {
			_ = e.Cancel()
		}
	}()

	var sinks []emitter.Sink[record.Event]
	if cfg.Output == config.OutputStdout {
		if cfg.Envelope {
			sinks = append(sinks, sink.NewEnvelopes(cmd.OutOrStdout()))
		} else {
			sinks = append(sinks, sink.NewLines(cmd.OutOrStdout()))
		}
	}

	var st *store.Store
	if cfg.Database != "" {
		st, err = store.Open(cfg.Database)
		if err != nil {
			_ = reportError(formatter, ErrCodeDatabase, err)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		if err := st.CreateRun(context.Background(), store.Run{
			ID:        runID,
			Source:    src.Name(),
			Speed:     cfg.Speed,
			StartTime: start,
		}); err != nil {
			_ = reportError(formatter, ErrCodeDatabase, err)
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		sinks = append(sinks, st.EmissionSink(runID))
	}

	var ln net.Listener
	if m != nil {
		ln, err = net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			_ = reportError(formatter, ErrCodeGeneric, err)
			return WrapExitError(ExitCommandError, "failed to listen for metrics", err)
		}
		logger.Info("serving metrics", "addr", ln.Addr().String())
		if opts.OnMetricsListen != nil {
			opts.OnMetricsListen(ln.Addr().String())
		}
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stopSignals := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	started = true
	runErr, serveErr := replay(ctx, e, sink.NewTee(sinks...), m, ln)

	stats := e.Stats()
	summary := RunSummary{
		RunID:     runID,
		Source:    src.Name(),
		Speed:     e.Speed(),
		State:     e.State().String(),
		Emitted:   stats.Emitted,
		Discarded: stats.Discarded,
		Lines:     stats.Lines,
	}
	var lastEvent *time.Time
	if last, ok := e.LastEmitted(); ok && stats.Emitted > 0 {
		summary.LastEventTime = last.UTC().Format(time.RFC3339Nano)
		lastEvent = &last
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}

	if st != nil {
		// The replay context may be cancelled by now.
		if err := st.FinishRun(context.Background(), store.Run{
			ID:            runID,
			Status:        store.StatusOf(e.State()),
			Emitted:       stats.Emitted,
			Discarded:     stats.Discarded,
			Lines:         stats.Lines,
			LastEventTime: lastEvent,
			Error:         summary.Error,
		}); err != nil {
			logger.Error("failed to record run outcome", "error", err)
		}
	}

	if runErr != nil {
		_ = outputRunSummary(formatter, summary, &CLIError{Code: ErrCodeReplay, Message: runErr.Error()})
		return WrapExitError(ExitFailure, "replay failed", runErr)
	}
	if serveErr != nil {
		_ = outputRunSummary(formatter, summary, &CLIError{Code: ErrCodeGeneric, Message: serveErr.Error()})
		return WrapExitError(ExitFailure, "metrics server failed", serveErr)
	}
	return outputRunSummary(formatter, summary, nil)
}

// replay runs the emitter and, when ln is set, the metrics server until the
// replay stops. A server failure cancels the replay.
func replay(ctx context.Context, e *emitter.Emitter[record.Event], out emitter.Sink[record.Event], m *metrics.Metrics, ln net.Listener) (runErr, serveErr error) {
	ctx, done := context.WithCancel(ctx)
	defer done()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer done()
		runErr = e.Run(gctx, out)
		return nil
	})

	if ln != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	serveErr = g.Wait()
	return runErr, serveErr
}

// loadRunConfig merges defaults, config file, environment, flags and the
// positional input, then validates the result.
func loadRunConfig(opts *RunOptions, cmd *cobra.Command, args []string) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := config.ApplyEnv(&cfg, opts.Environ); err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("speed", func() { cfg.Speed = opts.Speed })
	set("start-time", func() { cfg.StartTime = opts.StartTime })
	set("input-format", func() { cfg.InputFormat = opts.InputFormat })
	set("time-field", func() { cfg.TimeField = opts.TimeField })
	set("time-column", func() { cfg.TimeColumn = opts.TimeColumn })
	set("time-unit", func() { cfg.TimeUnit = opts.TimeUnit })
	set("time-layout", func() { cfg.TimeLayout = opts.TimeLayout })
	set("output", func() { cfg.Output = opts.Output })
	set("envelope", func() { cfg.Envelope = opts.Envelope })
	set("db", func() { cfg.Database = opts.Database })
	set("metrics-addr", func() { cfg.MetricsAddr = opts.MetricsAddr })
	if len(args) == 1 {
		cfg.Input = args[0]
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// inputSource maps "-" to stdin and anything else to a file.
func inputSource(input string, stdin io.Reader) emitter.Source {
	if input == "-" {
		return source.NewStream("stdin", stdin)
	}
	return source.NewFile(input)
}

func reportError(formatter *OutputFormatter, code string, err error) error {
	if formatter.Format != "json" {
		// Text errors are printed once by the caller of Execute.
		return nil
	}
	return formatter.Error(code, err.Error(), nil)
}

// outputRunSummary writes the summary. cliErr marks a failed replay.
func outputRunSummary(formatter *OutputFormatter, summary RunSummary, cliErr *CLIError) error {
	if formatter.Format == "json" {
		status := "ok"
		if cliErr != nil {
			status = "error"
		}
		return formatter.Respond(CLIResponse{
			Status: status,
			Data:   summary,
			Error:  cliErr,
			RunID:  summary.RunID,
		})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Run %s: %s\n", summary.RunID, summary.State)
	fmt.Fprintf(w, "  Source:     %s (speed %d)\n", summary.Source, summary.Speed)
	fmt.Fprintf(w, "  Emitted:    %d\n", summary.Emitted)
	fmt.Fprintf(w, "  Discarded:  %d\n", summary.Discarded)
	fmt.Fprintf(w, "  Lines:      %d\n", summary.Lines)
	if summary.LastEventTime != "" {
		fmt.Fprintf(w, "  Last event: %s\n", summary.LastEventTime)
	}
	return nil
}
