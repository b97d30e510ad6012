package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Epoch units for numeric event times.
const (
	UnitMillis  = "ms"
	UnitSeconds = "s"
)

// TimeFormat describes how an event time value is interpreted.
//
// When Unit is set, the value is a Unix epoch in that unit, given either as a
// JSON number or as a numeric string. Otherwise the value must be a string in
// Layout (default time.RFC3339Nano). JSON numbers without a Unit are read as
// epoch milliseconds.
type TimeFormat struct {
	Layout string
	Unit   string
}

// Validate checks that the format is usable.
func (f TimeFormat) Validate() error {
	switch f.Unit {
	case "", UnitMillis, UnitSeconds:
		return nil
	default:
		return fmt.Errorf("unknown time unit %q (want %q or %q)", f.Unit, UnitMillis, UnitSeconds)
	}
}

func (f TimeFormat) layout() string {
	if f.Layout == "" {
		return time.RFC3339Nano
	}
	return f.Layout
}

// Parse converts a decoded value into a time.
func (f TimeFormat) Parse(v any) (time.Time, error) {
	switch val := v.(type) {
	case json.Number:
		return f.parseEpoch(val.String())
	case string:
		if f.Unit != "" {
			return f.parseEpoch(strings.TrimSpace(val))
		}
		t, err := time.Parse(f.layout(), val)
		if err != nil {
			return time.Time{}, fmt.Errorf("event time %q: %w", val, err)
		}
		return t, nil
	case int64:
		return f.epoch(val), nil
	case float64:
		return f.parseEpoch(strconv.FormatFloat(val, 'f', -1, 64))
	case nil:
		return time.Time{}, fmt.Errorf("event time is null")
	default:
		return time.Time{}, fmt.Errorf("event time has unsupported type %T", v)
	}
}

func (f TimeFormat) parseEpoch(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return f.epoch(n), nil
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(fl, 0) || math.IsNaN(fl) {
		return time.Time{}, fmt.Errorf("event time %q is not a numeric epoch", s)
	}
	ms := math.Floor(fl)
	if f.Unit == UnitSeconds {
		ms = math.Floor(fl * 1000)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which is already out of range.
	if ms < math.MinInt64 || ms >= math.MaxInt64 {
		return time.Time{}, fmt.Errorf("event time %q is out of range", s)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

func (f TimeFormat) epoch(n int64) time.Time {
	if f.Unit == UnitSeconds {
		return time.Unix(n, 0).UTC()
	}
	return time.UnixMilli(n).UTC()
}
