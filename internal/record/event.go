package record

import (
	"time"
)

// Event is a single decoded input line.
type Event struct {
	// Time is the event time extracted from the line.
	Time time.Time

	// Payload is the raw line, without the trailing newline.
	Payload []byte

	// Fields holds the decoded content: the JSON object for JSON lines,
	// column name to cell for CSV lines.
	Fields map[string]any
}

// EventTime implements emitter.Record.
func (e Event) EventTime() time.Time {
	return e.Time
}

// ID returns the content-addressed identifier of the event.
// Events without fields fall back to hashing the raw payload.
func (e Event) ID() string {
	if e.Fields != nil {
		if canonical, err := MarshalCanonical(e.Fields); err == nil {
			return hashWithDomain(DomainRecord, canonical)
		}
	}
	return hashWithDomain(DomainRecord, e.Payload)
}
