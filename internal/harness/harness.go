package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/pacer/internal/emitter"
	"github.com/roach88/pacer/internal/record"
	"github.com/roach88/pacer/internal/sink"
	"github.com/roach88/pacer/internal/source"
	"github.com/roach88/pacer/internal/store"
	"github.com/roach88/pacer/internal/testutil"
)

// Harness is the scenario execution engine for one run.
// It observes the emitter and collects the trace.
//
// Thread-safety: trace appends are guarded by mu; the emitter calls the
// observer and sink from its Run goroutine and Cancel from the wait hook.
type Harness struct {
	store  *store.Store
	runID  string
	waiter *testutil.RecordingWaiter
	logger *slog.Logger

	mu     sync.Mutex
	result *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store for isolation. Replay
// errors are part of the result; the returned error is reserved for
// harness failures.
//
// Execution flow:
//  1. Create fresh in-memory store and run row
//  2. Build the emitter over the scenario records with a recording waiter
//  3. Open, optionally cancel, and run to completion
//  4. Finish the run row and read back the emission log
//  5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	runID := testutil.NewFixedRunIDGenerator(scenario.RunID).Generate()
	h := &Harness{
		store:  st,
		runID:  runID,
		waiter: testutil.NewRecordingWaiter(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		result: NewResult(runID),
	}

	if err := h.replay(context.Background(), scenario); err != nil {
		return nil, err
	}

	for _, assertion := range scenario.Assertions {
		if err := evaluateAssertion(h.result, assertion); err != nil {
			h.result.AddError(err.Error())
		}
	}
	return h.result, nil
}

func (h *Harness) replay(ctx context.Context, scenario *Scenario) error {
	dec, err := record.NewJSONDecoder(scenario.timeField(), scenario.timeFormat())
	if err != nil {
		return fmt.Errorf("scenario decoder: %w", err)
	}

	src := &countingSource{
		Source:   source.NewStream(scenario.Name, strings.NewReader(strings.Join(scenario.Records, "\n"))),
		closeErr: scenario.CloseError,
	}

	opts := []emitter.Option{
		emitter.WithWaiter(traceWaiter{inner: h.waiter, h: h}),
		emitter.WithLogger(h.logger),
		emitter.WithObserver(h),
	}
	var start *time.Time
	if scenario.StartTime != "" {
		t, err := time.Parse(time.RFC3339Nano, scenario.StartTime)
		if err != nil {
			return fmt.Errorf("scenario start_time: %w", err)
		}
		start = &t
		opts = append(opts, emitter.WithStartTime(t))
	}

	e, err := emitter.New[record.Event](src, dec, *scenario.Speed, opts...)
	if err != nil {
		h.recordError(err)
		return nil
	}

	if err := h.store.CreateRun(ctx, store.Run{
		ID:        h.runID,
		Source:    scenario.Name,
		Speed:     *scenario.Speed,
		StartTime: start,
	}); err != nil {
		return err
	}

	var cancelErr error
	if scenario.CancelAtWait > 0 {
		h.waiter.OnWait(scenario.CancelAtWait, func() { cancelErr = e.Cancel() })
	}

	runErr := e.Open()
	if runErr == nil {
		if scenario.CancelBeforeRun {
			cancelErr = e.Cancel()
		}
		out := sink.NewTee[record.Event](traceSink{h: h}, h.store.EmissionSink(h.runID))
		runErr = e.Run(ctx, out)
	}
	// A release failure seen by Cancel is also returned by Run; report it once.
	if cancelErr != nil && !errors.Is(runErr, cancelErr) {
		runErr = errors.Join(runErr, cancelErr)
	}
	h.recordError(runErr)

	stats := e.Stats()
	h.result.State = e.State().String()
	h.result.Emitted = stats.Emitted
	h.result.Discarded = stats.Discarded
	h.result.Releases = src.closes
	last, ok := e.LastEmitted()
	if ok {
		h.result.LastEmitted = formatTime(last)
	}

	finish := store.Run{
		ID:        h.runID,
		Status:    store.StatusOf(e.State()),
		Emitted:   stats.Emitted,
		Discarded: stats.Discarded,
		Lines:     stats.Lines,
	}
	if stats.Emitted > 0 {
		finish.LastEventTime = &last
	}
	if runErr != nil {
		finish.Error = runErr.Error()
	}
	if finish.Status != store.StatusRunning {
		if err := h.store.FinishRun(ctx, finish); err != nil {
			return err
		}
	}

	ems, err := h.store.ReadEmissions(ctx, h.runID)
	if err != nil {
		return err
	}
	h.result.StoredEmissions = len(ems)
	return nil
}

func (h *Harness) recordError(err error) {
	if err == nil {
		return
	}
	var re *emitter.ReplayError
	if errors.As(err, &re) {
		h.result.ErrorCode = string(re.Code)
	} else {
		h.result.ErrorCode = "UNKNOWN"
	}
	h.result.ErrorMessage = err.Error()
}

func (h *Harness) trace(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.Trace = append(h.result.Trace, ev)
}

// RecordEmitted implements emitter.Observer. Emissions are traced by
// traceSink, which sees the sequence number and line.
func (h *Harness) RecordEmitted(time.Time, time.Duration) {}

// RecordDiscarded implements emitter.Observer.
func (h *Harness) RecordDiscarded(eventTime time.Time) {
	h.trace(TraceEvent{Type: EventDiscard, EventTime: formatTime(eventTime)})
}

// RecordState implements emitter.Observer.
func (h *Harness) RecordState(state emitter.State) {
	h.trace(TraceEvent{Type: EventState, State: state.String()})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// traceWaiter records each wait into the trace after the recording waiter
// has handled it.
type traceWaiter struct {
	inner *testutil.RecordingWaiter
	h     *Harness
}

func (w traceWaiter) Wait(ctx context.Context, d time.Duration) error {
	err := w.inner.Wait(ctx, d)
	w.h.trace(TraceEvent{Type: EventWait, WaitMs: d.Milliseconds(), Interrupted: err != nil})
	return err
}

// traceSink records emissions into the trace.
type traceSink struct {
	h *Harness
}

func (s traceSink) Collect(ctx context.Context, ev record.Event) error {
	return s.CollectPaced(ctx, emitter.Emission[record.Event]{Record: ev})
}

func (s traceSink) CollectPaced(_ context.Context, em emitter.Emission[record.Event]) error {
	s.h.trace(TraceEvent{
		Type:      EventEmit,
		Seq:       em.Seq,
		Line:      em.Line,
		WaitMs:    em.Wait.Milliseconds(),
		RecordID:  em.Record.ID(),
		EventTime: formatTime(em.Record.Time),
	})
	return nil
}

// countingSource counts releases of its reader and can inject a close failure.
type countingSource struct {
	emitter.Source
	closeErr string
	closes   int
}

func (s *countingSource) Open() (emitter.Reader, error) {
	r, err := s.Source.Open()
	if err != nil {
		return nil, err
	}
	return &countingReader{Reader: r, src: s}, nil
}

type countingReader struct {
	emitter.Reader
	src *countingSource
}

func (r *countingReader) Close() error {
	r.src.closes++
	if err := r.Reader.Close(); err != nil {
		return err
	}
	if r.src.closeErr != "" {
		return errors.New(r.src.closeErr)
	}
	return nil
}
