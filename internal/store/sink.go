package store

import (
	"context"

	"github.com/roach88/pacer/internal/emitter"
	"github.com/roach88/pacer/internal/record"
)

// EmissionSink writes every emission of a run to the store.
// It implements emitter.PacedSink; plain Collect calls are numbered by the
// sink's own clock.
type EmissionSink struct {
	store *Store
	runID string
	clock *emitter.Clock
}

// EmissionSink returns a sink appending to the emissions of runID.
func (s *Store) EmissionSink(runID string) *EmissionSink {
	return &EmissionSink{store: s, runID: runID, clock: emitter.NewClock()}
}

// Collect implements emitter.Sink.
func (k *EmissionSink) Collect(ctx context.Context, ev record.Event) error {
	return k.CollectPaced(ctx, emitter.Emission[record.Event]{Seq: k.clock.Next(), Record: ev})
}

// CollectPaced implements emitter.PacedSink.
func (k *EmissionSink) CollectPaced(ctx context.Context, em emitter.Emission[record.Event]) error {
	return k.store.WriteEmission(ctx, Emission{
		RunID:     k.runID,
		Seq:       em.Seq,
		Line:      em.Line,
		RecordID:  em.Record.ID(),
		EventTime: em.Record.Time,
		WaitMs:    em.Wait.Milliseconds(),
		Payload:   string(em.Record.Payload),
	})
}

// StatusOf maps a terminal emitter state to a run status.
// Non-terminal states map to StatusRunning.
func StatusOf(state emitter.State) string {
	switch state {
	case emitter.StateExhausted:
		return StatusExhausted
	case emitter.StateCancelled:
		return StatusCancelled
	case emitter.StateFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}
