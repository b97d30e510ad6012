// Package emitter implements the paced record replay loop.
//
// An Emitter reads raw units from a Source, decodes each into a Record,
// waits for the event-time gap since the previously emitted record (divided
// by the speed factor), and hands the record to a Sink. Relative spacing of
// the original data is preserved so downstream windowing and ordering logic
// sees the stream "as if live".
//
// ARCHITECTURE:
//
// Single-Owner Replay Loop:
// Run executes on exactly one goroutine and owns the reader and the replay
// state (last emitted event time, emission clock). Cancel is the only
// operation designed to be called concurrently with Run.
//
// Loop per raw unit:
//  1. Check the cancellation flag
//  2. Read the next raw unit (io.EOF ends the run normally)
//  3. Decode it (failure aborts the run with a DECODE error)
//  4. Establish the baseline from the first record if no start time was given
//  5. Discard records strictly before the baseline
//  6. Wait floor(delta_ms / speed) milliseconds via the injected Waiter
//  7. Deliver to the sink, then advance the baseline
//
// CRITICAL PATTERNS:
//
// Monotonic Baseline:
// The last emitted event time never decreases. Records older than it are
// dropped without waiting, emitting, or touching state.
//
// Release Exactly Once:
// The reader is closed exactly once, on whichever exit path comes first
// (exhaustion, decode failure, sink failure, or cancellation). A close failure
// is reported as a RESOURCE error and never masks the original cause.
//
// Injected Waiting:
// All pacing goes through the Waiter interface so tests can record requested
// durations instead of sleeping.
package emitter
