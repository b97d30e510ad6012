package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pacer/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - show one run's emissions
	RecordID string // optional - find runs that emitted a record
}

// RunInfo is one run in trace output.
type RunInfo struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	Speed         int    `json:"speed"`
	StartTime     string `json:"start_time,omitempty"`
	Status        string `json:"status"`
	Emitted       int64  `json:"emitted"`
	Discarded     int64  `json:"discarded"`
	Lines         int64  `json:"lines"`
	LastEventTime string `json:"last_event_time,omitempty"`
	Error         string `json:"error,omitempty"`
}

// EmissionInfo is one emission in trace output.
type EmissionInfo struct {
	Seq       int64  `json:"seq"`
	Line      int64  `json:"line"`
	EventTime string `json:"event_time"`
	WaitMs    int64  `json:"wait_ms"`
	RecordID  string `json:"record_id"`
	Payload   string `json:"payload,omitempty"`
}

// TraceResult holds the output for a single run.
type TraceResult struct {
	Run      RunInfo        `json:"run"`
	Timeline []EmissionInfo `json:"timeline"`
	Stats    TraceStats     `json:"stats"`
}

// TraceStats holds summary statistics for a run's timeline.
type TraceStats struct {
	Emissions   int   `json:"emissions"`
	TotalWaitMs int64 `json:"total_wait_ms"`
	MaxWaitMs   int64 `json:"max_wait_ms"`
	EventSpanMs int64 `json:"event_span_ms"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect the emission log",
		Long: `Inspect the emission log written by "pacer run --db".

Without --run, lists all recorded runs. With --run, prints the run and
its emissions in sequence order: line, event time, applied wait and
record ID. With --record, lists the runs that emitted a record.

Examples:
  pacer trace --db ./pacer.db
  pacer trace --db ./pacer.db --run 01912c4e-...
  pacer trace --db ./pacer.db --run 01912c4e-... --verbose
  pacer trace --db ./pacer.db --record 3f2a... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to trace")
	cmd.Flags().StringVar(&opts.RecordID, "record", "", "record ID to look up")
	cmd.MarkFlagsMutuallyExclusive("run", "record")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database), err)
	}
	st, err := store.OpenReadOnly(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	switch {
	case opts.RunID != "":
		return traceRun(ctx, st, opts.RunID, formatter)
	case opts.RecordID != "":
		return traceRecord(ctx, st, opts.RecordID, formatter)
	default:
		return listRuns(ctx, st, formatter)
	}
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	infos := make([]RunInfo, len(runs))
	for i, r := range runs {
		infos[i] = toRunInfo(r)
	}

	if formatter.Format == "json" {
		return formatter.Success(infos)
	}

	w := formatter.Writer
	if len(infos) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, r := range infos {
		fmt.Fprintf(w, "%s  %-9s  emitted=%d discarded=%d  %s (speed %d)\n",
			r.ID, r.Status, r.Emitted, r.Discarded, r.Source, r.Speed)
	}
	return nil
}

func traceRun(ctx context.Context, st *store.Store, runID string, formatter *OutputFormatter) error {
	run, err := st.ReadRun(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		_ = reportError(formatter, ErrCodeNotFound, err)
		return WrapExitError(ExitCommandError, fmt.Sprintf("run not found: %s", runID), err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	ems, err := st.ReadEmissions(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read emissions", err)
	}

	result := TraceResult{
		Run:      toRunInfo(run),
		Timeline: make([]EmissionInfo, len(ems)),
		Stats:    TraceStats{Emissions: len(ems)},
	}
	for i, em := range ems {
		result.Timeline[i] = EmissionInfo{
			Seq:       em.Seq,
			Line:      em.Line,
			EventTime: formatTraceTime(em.EventTime),
			WaitMs:    em.WaitMs,
			RecordID:  em.RecordID,
		}
		if formatter.Verbose || formatter.Format == "json" {
			result.Timeline[i].Payload = em.Payload
		}
		result.Stats.TotalWaitMs += em.WaitMs
		result.Stats.MaxWaitMs = max(result.Stats.MaxWaitMs, em.WaitMs)
	}
	if len(ems) > 1 {
		result.Stats.EventSpanMs = ems[len(ems)-1].EventTime.Sub(ems[0].EventTime).Milliseconds()
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result, formatter.Verbose)
	return nil
}

func traceRecord(ctx context.Context, st *store.Store, recordID string, formatter *OutputFormatter) error {
	ids, err := st.FindRunsByRecord(ctx, recordID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to look up record", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"record_id": recordID, "runs": ids})
	}

	w := formatter.Writer
	if len(ids) == 0 {
		fmt.Fprintf(w, "No runs emitted record: %s\n", truncateID(recordID))
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	return nil
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	r := result.Run
	fmt.Fprintf(w, "Trace for Run: %s\n", r.ID)
	fmt.Fprintf(w, "Status: %s\n", r.Status)
	fmt.Fprintf(w, "Source: %s (speed %d)\n", r.Source, r.Speed)
	if r.StartTime != "" {
		fmt.Fprintf(w, "Start:  %s\n", r.StartTime)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:  %s\n", r.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no emissions)")
	}
	for _, em := range result.Timeline {
		fmt.Fprintf(w, "  [%d] line %d at %s (+%dms) %s\n",
			em.Seq, em.Line, em.EventTime, em.WaitMs, truncateID(em.RecordID))
		if verbose {
			fmt.Fprintf(w, "       %s\n", em.Payload)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Emitted:    %d\n", r.Emitted)
	fmt.Fprintf(w, "  Discarded:  %d\n", r.Discarded)
	fmt.Fprintf(w, "  Lines:      %d\n", r.Lines)
	fmt.Fprintf(w, "  Total wait: %dms (max %dms)\n", result.Stats.TotalWaitMs, result.Stats.MaxWaitMs)
	fmt.Fprintf(w, "  Event span: %dms\n", result.Stats.EventSpanMs)
}

func toRunInfo(r store.Run) RunInfo {
	info := RunInfo{
		ID:        r.ID,
		Source:    r.Source,
		Speed:     r.Speed,
		Status:    r.Status,
		Emitted:   r.Emitted,
		Discarded: r.Discarded,
		Lines:     r.Lines,
		Error:     r.Error,
	}
	if r.StartTime != nil {
		info.StartTime = formatTraceTime(*r.StartTime)
	}
	if r.LastEventTime != nil {
		info.LastEventTime = formatTraceTime(*r.LastEventTime)
	}
	return info
}

func formatTraceTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// truncateID shortens a hash for display.
func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
