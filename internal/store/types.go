package store

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// ErrReadOnly is returned by writes on a store opened with OpenReadOnly.
var ErrReadOnly = errors.New("store is read-only")

// Run status values. StatusRunning is the only non-terminal status.
const (
	StatusRunning   = "running"
	StatusExhausted = "exhausted"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Run is one replay of a source.
type Run struct {
	ID     string
	Source string
	Speed  int

	// StartTime is the configured baseline; nil when the first record set it.
	StartTime *time.Time

	Status    string
	Emitted   int64
	Discarded int64
	Lines     int64

	// LastEventTime is the event time of the last emitted record, if any.
	LastEventTime *time.Time

	// Error is the failure message of a failed run.
	Error string
}

// Emission is one emitted record.
type Emission struct {
	RunID     string
	Seq       int64
	Line      int64
	RecordID  string
	EventTime time.Time
	WaitMs    int64
	Payload   string
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
