package testutil

import (
	"context"
	"sync"
	"time"
)

// RecordingWaiter records requested pacing delays instead of sleeping.
//
// Waits return immediately, so tests assert on requested durations rather
// than elapsed wall time. A hook registered with OnWait turns the nth wait
// into a blocking one: the hook runs (typically cancelling the emitter) and
// the wait blocks until its context is done, then reports the interruption.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingWaiter struct {
	mu          sync.Mutex
	waits       []time.Duration
	interrupted []int
	hooks       map[int]func()
}

// NewRecordingWaiter creates an empty recording waiter.
func NewRecordingWaiter() *RecordingWaiter {
	return &RecordingWaiter{hooks: make(map[int]func())}
}

// OnWait registers fn to run when the nth wait (1-based) begins.
// That wait blocks until ctx is done; fn must arrange for that.
func (w *RecordingWaiter) OnWait(n int, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks[n] = fn
}

// Wait records d and returns immediately unless a hook is registered for
// this call or ctx is already done.
func (w *RecordingWaiter) Wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.waits = append(w.waits, d)
	n := len(w.waits)
	hook := w.hooks[n]
	w.mu.Unlock()

	if hook != nil {
		hook()
		<-ctx.Done()
	}
	if err := ctx.Err(); err != nil {
		w.mu.Lock()
		w.interrupted = append(w.interrupted, n)
		w.mu.Unlock()
		return err
	}
	return nil
}

// Waits returns a copy of all requested durations in call order.
func (w *RecordingWaiter) Waits() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]time.Duration, len(w.waits))
	copy(out, w.waits)
	return out
}

// WaitMillis returns the requested durations in milliseconds.
func (w *RecordingWaiter) WaitMillis() []int64 {
	waits := w.Waits()
	out := make([]int64, len(waits))
	for i, d := range waits {
		out[i] = d.Milliseconds()
	}
	return out
}

// Interrupted returns the 1-based indexes of waits that ended by cancellation.
func (w *RecordingWaiter) Interrupted() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int, len(w.interrupted))
	copy(out, w.interrupted)
	return out
}

// Reset clears recorded waits and hooks for test reuse.
func (w *RecordingWaiter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waits = nil
	w.interrupted = nil
	w.hooks = make(map[int]func())
}
