package testutil

import (
	"context"
	"errors"
	"sync"
)

// ErrSinkFailure is returned by CollectingSink on the configured failing call.
var ErrSinkFailure = errors.New("collecting sink: injected failure")

// CollectingSink stores every collected record in order.
//
// Set FailAt to a 1-based call number to make that call return ErrSinkFailure
// without storing the record.
//
// Thread-safety: safe for concurrent use via internal mutex.
type CollectingSink[T any] struct {
	FailAt int

	mu      sync.Mutex
	calls   int
	records []T
}

// NewCollectingSink creates an empty sink.
func NewCollectingSink[T any]() *CollectingSink[T] {
	return &CollectingSink[T]{}
}

// Collect appends rec.
func (s *CollectingSink[T]) Collect(_ context.Context, rec T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.FailAt > 0 && s.calls == s.FailAt {
		return ErrSinkFailure
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the collected records.
func (s *CollectingSink[T]) Records() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of collected records.
func (s *CollectingSink[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
