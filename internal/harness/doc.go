// Package harness runs pacing scenarios against the emitter deterministically.
//
// A scenario is a YAML file listing raw input lines, a speed factor, an
// optional start time and an optional cancellation point. The harness
// replays it through a real Emitter with a recording waiter, so nothing
// sleeps: every requested pacing delay is captured instead of waited on.
// Each run is also written to a fresh in-memory store, so assertions can
// check the emission log the way `pacer trace` would show it.
//
// The resulting trace (state changes, waits, emissions, discards) plus the
// run outcome is serialized as canonical JSON and compared against golden
// files, which makes pacing behavior reproducible across changes:
//
//	go test ./internal/harness -update
//
// regenerates the golden files after an intended change.
package harness
