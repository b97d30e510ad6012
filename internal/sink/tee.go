package sink

import (
	"context"
	"fmt"

	"github.com/roach88/pacer/internal/emitter"
)

// Tee forwards every emission to each sink in order. Sinks implementing
// emitter.PacedSink receive pacing metadata. The first failure stops the
// fan-out and is returned.
type Tee[T emitter.Record] struct {
	sinks []emitter.Sink[T]
}

// NewTee creates a fan-out over sinks. Nil sinks are skipped.
func NewTee[T emitter.Record](sinks ...emitter.Sink[T]) *Tee[T] {
	t := &Tee[T]{}
	for _, s := range sinks {
		if s != nil {
			t.sinks = append(t.sinks, s)
		}
	}
	return t
}

// Len returns the number of sinks.
func (t *Tee[T]) Len() int {
	return len(t.sinks)
}

// Collect implements emitter.Sink.
func (t *Tee[T]) Collect(ctx context.Context, rec T) error {
	for i, s := range t.sinks {
		if err := s.Collect(ctx, rec); err != nil {
			return fmt.Errorf("tee[%d]: %w", i, err)
		}
	}
	return nil
}

// CollectPaced implements emitter.PacedSink.
func (t *Tee[T]) CollectPaced(ctx context.Context, em emitter.Emission[T]) error {
	for i, s := range t.sinks {
		var err error
		if p, ok := s.(emitter.PacedSink[T]); ok {
			err = p.CollectPaced(ctx, em)
		} else {
			err = s.Collect(ctx, em.Record)
		}
		if err != nil {
			return fmt.Errorf("tee[%d]: %w", i, err)
		}
	}
	return nil
}
