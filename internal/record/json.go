package record

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// DefaultTimeField is the JSON field holding the event time when none is configured.
const DefaultTimeField = "timestamp"

// jsonAPI decodes numbers as json.Number so epoch values and record IDs
// never pass through float64.
var jsonAPI = jsoniter.Config{
	UseNumber:              true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// JSONDecoder decodes one JSON object per line.
type JSONDecoder struct {
	// TimeField is the path of the event time, dot-separated for nested
	// objects ("meta.ts"). Default: DefaultTimeField.
	TimeField string

	Format TimeFormat
}

// NewJSONDecoder creates a decoder reading the event time from field.
func NewJSONDecoder(field string, format TimeFormat) (*JSONDecoder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if field == "" {
		field = DefaultTimeField
	}
	if strings.HasPrefix(field, ".") || strings.HasSuffix(field, ".") || strings.Contains(field, "..") {
		return nil, fmt.Errorf("invalid time field path %q", field)
	}
	return &JSONDecoder{TimeField: field, Format: format}, nil
}

// Decode implements emitter.Decoder.
func (d *JSONDecoder) Decode(raw []byte) (Event, error) {
	var fields map[string]any
	if err := jsonAPI.Unmarshal(raw, &fields); err != nil {
		return Event{}, fmt.Errorf("invalid JSON line: %w", err)
	}
	if fields == nil {
		return Event{}, errors.New("JSON line is not an object")
	}

	v, err := lookup(fields, d.TimeField)
	if err != nil {
		return Event{}, err
	}
	t, err := d.Format.Parse(v)
	if err != nil {
		return Event{}, fmt.Errorf("field %q: %w", d.TimeField, err)
	}

	return Event{
		Time:    t,
		Payload: raw,
		Fields:  fields,
	}, nil
}

func lookup(fields map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	cur := fields
	for i, part := range parts {
		v, ok := cur[part]
		if !ok {
			return nil, fmt.Errorf("missing time field %q", path)
		}
		if i == len(parts)-1 {
			return v, nil
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("time field %q: %q is not an object", path, strings.Join(parts[:i+1], "."))
		}
		cur = next
	}
	return nil, fmt.Errorf("missing time field %q", path)
}
