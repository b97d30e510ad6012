package emitter

import (
	"context"
	"time"
)

// Waiter blocks for a pacing delay.
//
// Wait must return promptly with an error once ctx is done. Returning
// NewInterruptedError (or ctx.Err()) signals cancellation; any other error is
// treated as a fatal failure of the run.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// WaiterFunc adapts a function to the Waiter interface.
type WaiterFunc func(ctx context.Context, d time.Duration) error

// Wait calls f(ctx, d).
func (f WaiterFunc) Wait(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerWaiter sleeps on a real timer. It is the default Waiter.
type TimerWaiter struct{}

// Wait blocks for d or until ctx is done, whichever comes first.
// A zero wait still reports interruption if ctx is already done.
func (TimerWaiter) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return NewInterruptedError(d)
		}
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return NewInterruptedError(d)
	}
}

// PacingDelay returns floor((next - last) in ms / speed) as a duration.
// Negative gaps yield zero; callers discard such records before pacing.
func PacingDelay(last, next time.Time, speed int64) time.Duration {
	if speed < 1 {
		speed = 1
	}
	ms := next.Sub(last).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms/speed) * time.Millisecond
}
