package emitter

import "sync/atomic"

// Clock is the monotonic logical clock that numbers emissions.
//
// Every record handed to a sink is stamped with a strictly increasing seq
// from this clock. Seq numbers are independent of event time and wall time,
// so two replays of the same input produce the same numbering.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations), though
// only the Run goroutine calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
