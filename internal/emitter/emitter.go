package emitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Emitter replays records from a Source at their original event-time pace,
// scaled by a speed factor.
//
// Thread-safety model:
//   - Open(), Run(): must be called from the single goroutine that owns the replay
//   - Cancel(): safe from any goroutine, any number of times
//   - State(), Stats(), LastEmitted(): safe from any goroutine
//
// INVARIANTS:
//   - speed >= 1 (enforced by New)
//   - lastEmitted never decreases once set
//   - the reader is closed exactly once
//   - cancelled never reverts to false
type Emitter[T Record] struct {
	source   Source
	decoder  Decoder[T]
	speed    int64
	waiter   Waiter
	logger   *slog.Logger
	observer Observer
	clock    *Clock

	// mu guards reader and the replay baseline. The baseline is only written
	// by the Run goroutine; the lock gives LastEmitted a consistent view.
	mu          sync.Mutex
	reader      Reader
	lastEmitted time.Time
	hasLast     bool

	state      atomic.Int32
	cancelled  atomic.Bool
	done       chan struct{}
	cancelOnce sync.Once

	releaseOnce sync.Once
	releaseErr  error

	emitted   atomic.Int64
	discarded atomic.Int64
	lines     atomic.Int64
}

// Option configures an Emitter.
type Option func(*options)

type options struct {
	startTime *time.Time
	waiter    Waiter
	logger    *slog.Logger
	observer  Observer
}

// WithStartTime sets the initial baseline. Records with an event time before
// it are discarded; the first emitted record waits for its gap from it.
func WithStartTime(t time.Time) Option {
	return func(o *options) {
		o.startTime = &t
	}
}

// WithWaiter replaces the default TimerWaiter.
// Tests use this to record requested waits instead of sleeping.
func WithWaiter(w Waiter) Option {
	return func(o *options) {
		if w != nil {
			o.waiter = w
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an Observer for emissions, discards and state changes.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// New creates an Emitter over src using dec to decode raw units.
//
// Returns a CONFIGURATION error if speed < 1 or src/dec is nil. No input is
// touched until Open is called.
func New[T Record](src Source, dec Decoder[T], speed int, opts ...Option) (*Emitter[T], error) {
	if speed < 1 {
		return nil, NewConfigurationError(fmt.Sprintf("speed factor must be >= 1, got %d", speed))
	}
	if src == nil {
		return nil, NewConfigurationError("source is required")
	}
	if dec == nil {
		return nil, NewConfigurationError("decoder is required")
	}

	o := options{
		waiter:   TimerWaiter{},
		logger:   slog.Default(),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Emitter[T]{
		source:   src,
		decoder:  dec,
		speed:    int64(speed),
		waiter:   o.waiter,
		logger:   o.logger,
		observer: o.observer,
		clock:    NewClock(),
		done:     make(chan struct{}),
	}
	if o.startTime != nil {
		e.lastEmitted = *o.startTime
		e.hasLast = true
	}
	return e, nil
}

// Open acquires the input resource.
// Returns a RESOURCE error if the source cannot be opened, or if the emitter
// was already opened or cancelled.
func (e *Emitter[T]) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := e.source.Name()
	if e.cancelled.Load() {
		return NewResourceError("open", name, "emitter already cancelled", nil)
	}
	if e.State() != StateNew {
		return NewResourceError("open", name, "emitter already opened", nil)
	}

	r, err := e.source.Open()
	if err != nil {
		return NewResourceError("open", name, "input could not be opened", err)
	}
	// A concurrent Cancel may have moved New to Cancelled while the source
	// was opening. The reader is then ours to release.
	if !e.state.CompareAndSwap(int32(StateNew), int32(StateOpen)) {
		if cerr := r.Close(); cerr != nil {
			e.logger.Error("input release failed", "source", name, "error", cerr)
		}
		return NewResourceError("open", name, "emitter already cancelled", nil)
	}
	e.reader = r
	e.observer.RecordState(StateOpen)

	e.logger.Debug("input opened", "source", name)
	return nil
}

// Run replays the input into sink until it is exhausted, cancelled, or fails.
// Blocks until one of those happens.
//
// Returns nil on exhaustion and on cancellation (via Cancel or ctx). Decode,
// read and sink failures abort the run. The input is released on every exit
// path; a release failure is joined to the returned error.
func (e *Emitter[T]) Run(ctx context.Context, sink Sink[T]) (err error) {
	name := e.source.Name()
	if sink == nil {
		return &ReplayError{Code: ErrCodeConfiguration, Op: "run", Message: "sink is required", Source: name}
	}
	if !e.state.CompareAndSwap(int32(StateOpen), int32(StateRunning)) {
		if e.cancelled.Load() {
			return e.release()
		}
		return NewResourceError("run", name, fmt.Sprintf("emitter is %s, expected open", e.State()), nil)
	}
	e.observer.RecordState(StateRunning)

	e.mu.Lock()
	reader := e.reader
	e.mu.Unlock()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Cancel() interrupts the wait through runCtx. A done ctx is a Cancel():
	// it also releases the input so a read blocked on a pipe returns.
	go func() {
		select {
		case <-e.done:
			cancelRun()
		case <-runCtx.Done():
			// The state is terminal once Run is returning.
			if ctx.Err() != nil && !e.State().Terminal() {
				_ = e.Cancel()
			}
		}
	}()

	defer func() {
		if relErr := e.release(); relErr != nil {
			e.logger.Error("input release failed", "source", name, "error", relErr)
			if err == nil {
				err = relErr
			} else {
				err = errors.Join(err, relErr)
			}
		}
	}()

	e.logger.Info("replay starting", "source", name, "speed", e.speed)

	final, err := e.loop(runCtx, reader, sink)
	e.finish(final)

	e.logger.Info("replay stopped",
		"source", name,
		"state", e.State().String(),
		"emitted", e.emitted.Load(),
		"discarded", e.discarded.Load(),
	)
	return err
}

// loop is the replay state machine. Returns the terminal state to enter.
// CRITICAL: Called only from Run.
func (e *Emitter[T]) loop(ctx context.Context, reader Reader, sink Sink[T]) (State, error) {
	name := e.source.Name()
	paced, _ := sink.(PacedSink[T])

	for {
		if e.stopping(ctx) {
			return StateCancelled, nil
		}

		raw, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return StateExhausted, nil
		}
		if err != nil {
			// Cancel closes the reader underneath a blocked Next.
			if e.stopping(ctx) {
				return StateCancelled, nil
			}
			return StateFailed, NewResourceError("read", name, "input could not be read", err)
		}
		line := e.lines.Add(1)

		rec, err := e.decoder.Decode(raw)
		if err != nil {
			return StateFailed, NewDecodeError(name, line, err)
		}

		eventTime := rec.EventTime()
		last := e.baseline(eventTime)
		if eventTime.Before(last) {
			e.discarded.Add(1)
			e.observer.RecordDiscarded(eventTime)
			e.logger.Debug("record discarded",
				"line", line,
				"event_time", eventTime,
				"baseline", last,
			)
			continue
		}

		wait := PacingDelay(last, eventTime, e.speed)
		if err := e.waiter.Wait(ctx, wait); err != nil {
			if e.stopping(ctx) || IsInterrupted(err) || errors.Is(err, context.Canceled) {
				e.logger.Debug("wait interrupted", "line", line, "wait_ms", wait.Milliseconds())
				return StateCancelled, nil
			}
			return StateFailed, fmt.Errorf("wait before line %d: %w", line, err)
		}

		// Past the wait the record is delivered to every sink and counted,
		// even if a cancel arrives meanwhile.
		deliverCtx := context.WithoutCancel(ctx)
		em := Emission[T]{
			Seq:    e.clock.Next(),
			Line:   line,
			Wait:   wait,
			Record: rec,
		}
		if paced != nil {
			err = paced.CollectPaced(deliverCtx, em)
		} else {
			err = sink.Collect(deliverCtx, rec)
		}
		if err != nil {
			return StateFailed, NewSinkError(name, line, err)
		}

		e.advance(eventTime)
		e.emitted.Add(1)
		e.observer.RecordEmitted(eventTime, wait)
		e.logger.Debug("record emitted",
			"seq", em.Seq,
			"line", line,
			"event_time", eventTime,
			"wait_ms", wait.Milliseconds(),
		)
	}
}

// Cancel stops the replay and releases the input.
//
// Safe to call concurrently with Run and any number of times; only the first
// call has an effect. A pending wait is interrupted so Run returns without
// emitting the record in flight. Returns a RESOURCE error if closing the
// input fails; the emitter stays cancelled either way.
func (e *Emitter[T]) Cancel() error {
	e.requestCancel()
	if e.state.CompareAndSwap(int32(StateNew), int32(StateCancelled)) ||
		e.state.CompareAndSwap(int32(StateOpen), int32(StateCancelled)) {
		e.observer.RecordState(StateCancelled)
	}
	return e.release()
}

func (e *Emitter[T]) requestCancel() {
	e.cancelOnce.Do(func() {
		e.cancelled.Store(true)
		close(e.done)
		e.logger.Info("replay cancel requested", "source", e.source.Name())
	})
}

// stopping reports whether the loop must stop. A done ctx counts as a
// cancellation request.
func (e *Emitter[T]) stopping(ctx context.Context) bool {
	if e.cancelled.Load() {
		return true
	}
	if ctx.Err() != nil {
		e.requestCancel()
		return true
	}
	return false
}

// release closes the reader exactly once and returns the (stored) outcome.
func (e *Emitter[T]) release() error {
	e.mu.Lock()
	r := e.reader
	e.mu.Unlock()
	if r == nil {
		return nil
	}

	e.releaseOnce.Do(func() {
		if err := r.Close(); err != nil {
			e.releaseErr = NewResourceError("close", e.source.Name(), "input could not be released", err)
			return
		}
		e.logger.Debug("input released", "source", e.source.Name())
	})
	return e.releaseErr
}

func (e *Emitter[T]) finish(to State) {
	for {
		cur := e.state.Load()
		if State(cur).Terminal() {
			return
		}
		if e.state.CompareAndSwap(cur, int32(to)) {
			e.observer.RecordState(to)
			return
		}
	}
}

// baseline returns the current last-emitted time, initializing it from
// eventTime if no record or start time has set it yet.
func (e *Emitter[T]) baseline(eventTime time.Time) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasLast {
		e.lastEmitted = eventTime
		e.hasLast = true
	}
	return e.lastEmitted
}

func (e *Emitter[T]) advance(eventTime time.Time) {
	e.mu.Lock()
	e.lastEmitted = eventTime
	e.mu.Unlock()
}

// State returns the current lifecycle state.
func (e *Emitter[T]) State() State {
	return State(e.state.Load())
}

// Cancelled reports whether cancellation has been requested.
func (e *Emitter[T]) Cancelled() bool {
	return e.cancelled.Load()
}

// LastEmitted returns the event time of the most recently emitted record, or
// the start time if nothing has been emitted yet. ok is false while unset.
func (e *Emitter[T]) LastEmitted() (t time.Time, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastEmitted, e.hasLast
}

// Stats returns the emission counters.
func (e *Emitter[T]) Stats() Stats {
	return Stats{
		Emitted:   e.emitted.Load(),
		Discarded: e.discarded.Load(),
		Lines:     e.lines.Load(),
	}
}

// Speed returns the configured speed factor.
func (e *Emitter[T]) Speed() int {
	return int(e.speed)
}
