package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		switch ev.Type {
		case EventWait:
			suffix := ""
			if ev.Interrupted {
				suffix = " (interrupted)"
			}
			fmt.Fprintf(&buf, "  [%d] wait %dms%s\n", i+1, ev.WaitMs, suffix)
		case EventEmit:
			fmt.Fprintf(&buf, "  [%d] emit seq=%d line=%d at %s\n", i+1, ev.Seq, ev.Line, ev.EventTime)
		case EventDiscard:
			fmt.Fprintf(&buf, "  [%d] discard at %s\n", i+1, ev.EventTime)
		case EventState:
			fmt.Fprintf(&buf, "  [%d] state %s\n", i+1, ev.State)
		}
	}

	return buf.String()
}

// evaluateAssertion checks one assertion against a result.
func evaluateAssertion(r *Result, a Assertion) error {
	switch a.Type {
	case AssertWaits:
		return expectSlice(r, a.Type, a.WaitsMs, r.Waits())
	case AssertEmittedLines:
		return expectSlice(r, a.Type, a.Lines, r.EmittedLines())
	case AssertEmittedCount:
		return expectCount(r, a.Type, a.Count, int(r.Emitted))
	case AssertDiscardedCount:
		return expectCount(r, a.Type, a.Count, int(r.Discarded))
	case AssertReleases:
		return expectCount(r, a.Type, a.Count, r.Releases)
	case AssertStoredEmissions:
		return expectCount(r, a.Type, a.Count, r.StoredEmissions)
	case AssertState:
		return expectString(r, a.Type, a.Value, r.State)
	case AssertLastEmitted:
		return expectString(r, a.Type, a.Value, r.LastEmitted)
	case AssertError:
		return expectString(r, a.Type, a.Value, r.ErrorCode)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func expectSlice(r *Result, typ string, want, got []int64) error {
	if len(want) == 0 && len(got) == 0 {
		return nil
	}
	if slices.Equal(want, got) {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    r.Trace,
	}
}

func expectCount(r *Result, typ string, want, got int) error {
	if want == got {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%d", want),
		Actual:   fmt.Sprintf("%d", got),
		Trace:    r.Trace,
	}
}

func expectString(r *Result, typ, want, got string) error {
	if want == got {
		return nil
	}
	if got == "" {
		got = "(unset)"
	}
	return &AssertionError{
		Type:     typ,
		Expected: want,
		Actual:   got,
		Trace:    r.Trace,
	}
}
