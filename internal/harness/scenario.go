package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pacer/internal/record"
)

// Scenario defines a pacing scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Speed is the speed factor handed to the emitter. Required; values
	// below 1 exercise the configuration error path.
	Speed *int `yaml:"speed"`

	// StartTime is an optional RFC 3339 baseline.
	StartTime string `yaml:"start_time,omitempty"`

	// TimeField is the JSON field with the event time. Default "ts".
	TimeField string `yaml:"time_field,omitempty"`

	// TimeUnit interprets numeric event times. Default "ms".
	TimeUnit string `yaml:"time_unit,omitempty"`

	// Records are the raw input lines, one JSON object each.
	Records []string `yaml:"records"`

	// CancelAtWait cancels the emitter during the nth wait (1-based).
	// Zero never cancels.
	CancelAtWait int `yaml:"cancel_at_wait,omitempty"`

	// CancelBeforeRun cancels after Open and before Run.
	CancelBeforeRun bool `yaml:"cancel_before_run,omitempty"`

	// CloseError makes releasing the input fail with this message.
	CloseError string `yaml:"close_error,omitempty"`

	// RunID is the run ID used for the emission log.
	// If empty, defaults to "test-run-default" for golden comparison.
	RunID string `yaml:"run_id,omitempty"`

	// Assertions validate the outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates one aspect of the outcome.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// WaitsMs are the expected requested waits in order (waits).
	WaitsMs []int64 `yaml:"waits_ms,omitempty"`

	// Lines are the expected 1-based input lines of emitted records (emitted_lines).
	Lines []int64 `yaml:"lines,omitempty"`

	// Count is the expected number (emitted_count, discarded_count, releases,
	// stored_emissions).
	Count int `yaml:"count,omitempty"`

	// Value is the expected string (state, last_emitted, error).
	Value string `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertWaits           = "waits"
	AssertEmittedLines    = "emitted_lines"
	AssertEmittedCount    = "emitted_count"
	AssertDiscardedCount  = "discarded_count"
	AssertState           = "state"
	AssertLastEmitted     = "last_emitted"
	AssertError           = "error"
	AssertReleases        = "releases"
	AssertStoredEmissions = "stored_emissions"
)

// NoError is the Value of an error assertion expecting success.
const NoError = "none"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Speed == nil {
		return fmt.Errorf("speed is required")
	}
	if s.StartTime != "" {
		if _, err := time.Parse(time.RFC3339Nano, s.StartTime); err != nil {
			return fmt.Errorf("start_time: %w", err)
		}
	}
	if err := s.timeFormat().Validate(); err != nil {
		return fmt.Errorf("time_unit: %w", err)
	}
	if s.CancelAtWait < 0 {
		return fmt.Errorf("cancel_at_wait must be non-negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertWaits:
		if a.WaitsMs == nil {
			return fmt.Errorf("assertions[%d]: waits_ms is required for waits (use [] for none)", index)
		}
	case AssertEmittedLines:
		if a.Lines == nil {
			return fmt.Errorf("assertions[%d]: lines is required for emitted_lines (use [] for none)", index)
		}
	case AssertEmittedCount, AssertDiscardedCount, AssertReleases, AssertStoredEmissions:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertState, AssertLastEmitted, AssertError:
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func (s *Scenario) timeField() string {
	if s.TimeField == "" {
		return "ts"
	}
	return s.TimeField
}

func (s *Scenario) timeFormat() record.TimeFormat {
	unit := s.TimeUnit
	if unit == "" {
		unit = record.UnitMillis
	}
	return record.TimeFormat{Unit: unit}
}
