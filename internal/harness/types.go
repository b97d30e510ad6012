package harness

// Trace event types.
const (
	EventState   = "state"
	EventWait    = "wait"
	EventEmit    = "emit"
	EventDiscard = "discard"
)

// TraceEvent is one observable step of a replay.
type TraceEvent struct {
	Type string `json:"type"`

	// State is set for state events.
	State string `json:"state,omitempty"`

	// WaitMs is set for wait and emit events.
	WaitMs int64 `json:"wait_ms,omitempty"`

	// Interrupted marks a wait cut short by cancellation.
	Interrupted bool `json:"interrupted,omitempty"`

	// Seq, Line and RecordID are set for emit events.
	Seq      int64  `json:"seq,omitempty"`
	Line     int64  `json:"line,omitempty"`
	RecordID string `json:"record_id,omitempty"`

	// EventTime is set for emit and discard events (RFC 3339, UTC).
	EventTime string `json:"event_time,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every assertion held.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Trace contains every step in the order it happened.
	Trace []TraceEvent `json:"trace"`

	RunID string `json:"run_id"`

	// State is the terminal emitter state; empty if construction failed.
	State string `json:"state,omitempty"`

	Emitted   int64 `json:"emitted"`
	Discarded int64 `json:"discarded"`

	// LastEmitted is the final baseline (RFC 3339), empty if never set.
	LastEmitted string `json:"last_emitted,omitempty"`

	// ErrorCode is the code of the returned replay error, or NoError.
	ErrorCode string `json:"error_code"`

	// ErrorMessage is the full returned error text.
	ErrorMessage string `json:"error_message,omitempty"`

	// Releases counts how often the input was closed.
	Releases int `json:"releases"`

	// StoredEmissions counts the emission log rows of the run.
	StoredEmissions int `json:"stored_emissions"`
}

// NewResult creates a new passing result.
func NewResult(runID string) *Result {
	return &Result{
		Pass:      true,
		Errors:    []string{},
		Trace:     []TraceEvent{},
		RunID:     runID,
		ErrorCode: NoError,
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Waits returns the requested waits in milliseconds.
func (r *Result) Waits() []int64 {
	waits := []int64{}
	for _, ev := range r.Trace {
		if ev.Type == EventWait {
			waits = append(waits, ev.WaitMs)
		}
	}
	return waits
}

// EmittedLines returns the input lines of emitted records.
func (r *Result) EmittedLines() []int64 {
	lines := []int64{}
	for _, ev := range r.Trace {
		if ev.Type == EventEmit {
			lines = append(lines, ev.Line)
		}
	}
	return lines
}
