package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/roach88/pacer/internal/emitter"
	"github.com/roach88/pacer/internal/record"
)

// Lines writes each record's raw payload followed by a newline.
// Output is flushed after every record so downstream readers see records
// at their paced time.
type Lines struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewLines creates a raw line sink over w.
func NewLines(w io.Writer) *Lines {
	return &Lines{w: bufio.NewWriter(w)}
}

// Collect implements emitter.Sink.
func (s *Lines) Collect(_ context.Context, ev record.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(ev.Payload); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

// Envelope is the JSON object written per emission by the Envelopes sink.
type Envelope struct {
	Seq       int64               `json:"seq"`
	Line      int64               `json:"line"`
	EventTime string              `json:"event_time"`
	WaitMs    int64               `json:"wait_ms"`
	RecordID  string              `json:"record_id"`
	Payload   jsoniter.RawMessage `json:"payload"`
}

// Envelopes writes one JSON envelope per emission. Payloads that are not
// valid JSON (CSV lines) are embedded as JSON strings.
type Envelopes struct {
	mu  sync.Mutex
	w   *bufio.Writer
	api jsoniter.API
}

// NewEnvelopes creates an envelope sink over w.
func NewEnvelopes(w io.Writer) *Envelopes {
	return &Envelopes{w: bufio.NewWriter(w), api: jsoniter.ConfigFastest}
}

// Collect writes an envelope without pacing metadata.
func (s *Envelopes) Collect(ctx context.Context, ev record.Event) error {
	return s.CollectPaced(ctx, emitter.Emission[record.Event]{Record: ev})
}

// CollectPaced implements emitter.PacedSink.
func (s *Envelopes) CollectPaced(_ context.Context, em emitter.Emission[record.Event]) error {
	env, err := s.envelope(em)
	if err != nil {
		return err
	}
	data, err := s.api.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *Envelopes) envelope(em emitter.Emission[record.Event]) (Envelope, error) {
	payload := jsoniter.RawMessage(em.Record.Payload)
	// jsoniter's Valid ignores trailing bytes, so "7,x" would pass.
	if !json.Valid(em.Record.Payload) {
		quoted, err := s.api.Marshal(string(em.Record.Payload))
		if err != nil {
			return Envelope{}, fmt.Errorf("encode payload: %w", err)
		}
		payload = quoted
	}
	return Envelope{
		Seq:       em.Seq,
		Line:      em.Line,
		EventTime: em.Record.Time.UTC().Format(time.RFC3339Nano),
		WaitMs:    em.Wait.Milliseconds(),
		RecordID:  em.Record.ID(),
		Payload:   payload,
	}, nil
}
