package emitter

import (
	"context"
	"time"
)

// Record is any value that carries an event time.
// The emitter makes no other assumption about its shape.
type Record interface {
	EventTime() time.Time
}

// Decoder converts one raw unit (typically a line) into a Record.
// Implementations must be pure: no side effects on the emitter.
type Decoder[T Record] interface {
	Decode(raw []byte) (T, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc[T Record] func(raw []byte) (T, error)

// Decode calls f(raw).
func (f DecoderFunc[T]) Decode(raw []byte) (T, error) {
	return f(raw)
}

// Sink receives emitted records, one per call, in emission order.
// The ctx passed by Run carries its values but is never cancelled: once a
// record's wait is over, Cancel does not interrupt its delivery.
type Sink[T Record] interface {
	Collect(ctx context.Context, rec T) error
}

// Emission is a record together with its pacing metadata.
type Emission[T Record] struct {
	// Seq is the emission number from the emitter's Clock (starts at 1).
	Seq int64

	// Line is the 1-based raw unit number the record was decoded from.
	Line int64

	// Wait is the pacing delay applied before this emission.
	Wait time.Duration

	Record T
}

// PacedSink is implemented by sinks that want pacing metadata.
// When a sink implements it, Run calls CollectPaced instead of Collect.
type PacedSink[T Record] interface {
	CollectPaced(ctx context.Context, em Emission[T]) error
}

// Source is an input location that can be opened once.
type Source interface {
	// Open acquires the underlying resource and returns a Reader over it.
	Open() (Reader, error)

	// Name identifies the source in logs and errors.
	Name() string
}

// Reader yields raw units one at a time.
//
// Next returns io.EOF when the input is exhausted; any other error is a read
// failure. Close releases the resource and is called exactly once by the
// emitter, possibly from a different goroutine than Next.
type Reader interface {
	Next() ([]byte, error)
	Close() error
}

// Observer receives notifications from the replay loop.
// All methods are called from the Run goroutine except RecordState, which
// may also be called from Cancel.
type Observer interface {
	RecordEmitted(eventTime time.Time, wait time.Duration)
	RecordDiscarded(eventTime time.Time)
	RecordState(state State)
}

type noopObserver struct{}

func (noopObserver) RecordEmitted(time.Time, time.Duration) {}
func (noopObserver) RecordDiscarded(time.Time)             {}
func (noopObserver) RecordState(State)                     {}
