package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pacer/internal/record"
)

// Snapshot serializes a scenario result as canonical JSON for golden
// comparison. Only deterministic fields are included.
func Snapshot(scenarioName string, r *Result) ([]byte, error) {
	trace := make([]any, len(r.Trace))
	for i, ev := range r.Trace {
		m := map[string]any{"type": ev.Type}
		switch ev.Type {
		case EventState:
			m["state"] = ev.State
		case EventWait:
			m["wait_ms"] = ev.WaitMs
			m["interrupted"] = ev.Interrupted
		case EventEmit:
			m["seq"] = ev.Seq
			m["line"] = ev.Line
			m["wait_ms"] = ev.WaitMs
			m["record_id"] = ev.RecordID
			m["event_time"] = ev.EventTime
		case EventDiscard:
			m["event_time"] = ev.EventTime
		}
		trace[i] = m
	}

	outcome := map[string]any{
		"emitted":          r.Emitted,
		"discarded":        r.Discarded,
		"error":            r.ErrorCode,
		"releases":         int64(r.Releases),
		"stored_emissions": int64(r.StoredEmissions),
	}
	if r.State != "" {
		outcome["state"] = r.State
	}
	if r.LastEmitted != "" {
		outcome["last_emitted"] = r.LastEmitted
	}

	return record.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"run_id":        r.RunID,
		"trace":         trace,
		"outcome":       outcome,
	})
}

// RunWithGolden executes a scenario and compares the snapshot against a
// golden file in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
