package sink

import (
	"context"

	"github.com/roach88/pacer/internal/emitter"
)

// Channel delivers records on a Go channel. Collect blocks until the
// receiver takes the record or ctx is done. Under an Emitter ctx is never
// done, so the receiver must keep draining until Run returns.
type Channel[T emitter.Record] struct {
	ch chan<- T
}

// NewChannel creates a channel sink sending on ch.
func NewChannel[T emitter.Record](ch chan<- T) *Channel[T] {
	return &Channel[T]{ch: ch}
}

// Collect implements emitter.Sink.
func (c *Channel[T]) Collect(ctx context.Context, rec T) error {
	select {
	case c.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
