package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONDecoder_RFC3339(t *testing.T) {
	dec, err := NewJSONDecoder("", TimeFormat{})
	require.NoError(t, err)

	raw := []byte(`{"timestamp":"2024-01-01T00:00:01.5Z","user":"ada"}`)
	ev, err := dec.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 1, 500_000_000, time.UTC), ev.EventTime().UTC())
	assert.Equal(t, raw, ev.Payload)
	assert.Equal(t, "ada", ev.Fields["user"])
}

func TestJSONDecoder_NestedField(t *testing.T) {
	dec, err := NewJSONDecoder("meta.ts", TimeFormat{Unit: UnitMillis})
	require.NoError(t, err)

	ev, err := dec.Decode([]byte(`{"meta":{"ts":1704067200123}}`))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1704067200123).UTC(), ev.Time)
}

func TestJSONDecoder_EpochSeconds(t *testing.T) {
	dec, err := NewJSONDecoder("ts", TimeFormat{Unit: UnitSeconds})
	require.NoError(t, err)

	ev, err := dec.Decode([]byte(`{"ts":1704067200}`))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1704067200, 0).UTC(), ev.Time)

	ev, err = dec.Decode([]byte(`{"ts":"1704067201"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1704067201, 0).UTC(), ev.Time)

	ev, err = dec.Decode([]byte(`{"ts":1704067200.25}`))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1704067200250).UTC(), ev.Time)
}

func TestJSONDecoder_EpochOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		unit string
		line string
	}{
		{"millis", UnitMillis, `{"ts":1e30}`},
		{"seconds", UnitSeconds, `{"ts":1e17}`},
		{"negative seconds", UnitSeconds, `{"ts":-1e17}`},
		{"string", UnitMillis, `{"ts":"9.3e18"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := NewJSONDecoder("ts", TimeFormat{Unit: tt.unit})
			require.NoError(t, err)

			_, err = dec.Decode([]byte(tt.line))
			assert.ErrorContains(t, err, "out of range")
		})
	}
}

func TestJSONDecoder_CustomLayout(t *testing.T) {
	dec, err := NewJSONDecoder("when", TimeFormat{Layout: "2006-01-02 15:04:05"})
	require.NoError(t, err)

	ev, err := dec.Decode([]byte(`{"when":"2024-03-05 10:11:12"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC), ev.Time)
}

func TestJSONDecoder_Errors(t *testing.T) {
	dec, err := NewJSONDecoder("meta.ts", TimeFormat{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		line    string
		wantErr string
	}{
		{"not json", `not json`, "invalid JSON line"},
		{"array", `[1,2]`, "invalid JSON line"},
		{"null", `null`, "not an object"},
		{"missing", `{"other":1}`, `missing time field "meta.ts"`},
		{"not object", `{"meta":"x"}`, "is not an object"},
		{"bad time", `{"meta":{"ts":"yesterday"}}`, `field "meta.ts"`},
		{"null time", `{"meta":{"ts":null}}`, "event time is null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dec.Decode([]byte(tt.line))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewJSONDecoder_Validation(t *testing.T) {
	_, err := NewJSONDecoder("a..b", TimeFormat{})
	assert.Error(t, err)

	_, err = NewJSONDecoder("ts", TimeFormat{Unit: "ns"})
	assert.ErrorContains(t, err, "unknown time unit")
}

func TestCSVDecoder_ByName(t *testing.T) {
	dec, err := NewCSVDecoder([]string{"id", "ts", "msg"}, "ts", 0, TimeFormat{Unit: UnitMillis})
	require.NoError(t, err)

	raw := []byte(`7,1704067200000,"hello, world"`)
	ev, err := dec.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, time.UnixMilli(1704067200000).UTC(), ev.Time)
	assert.Equal(t, map[string]any{"id": "7", "ts": "1704067200000", "msg": "hello, world"}, ev.Fields)
	assert.Equal(t, raw, ev.Payload)
}

func TestCSVDecoder_ByIndexAndExtraCells(t *testing.T) {
	dec, err := NewCSVDecoder(nil, "1", ';', TimeFormat{})
	require.NoError(t, err)

	ev, err := dec.Decode([]byte(`a;2024-01-01T00:00:00Z;b`))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ev.Time)
	assert.Equal(t, map[string]any{"0": "a", "1": "2024-01-01T00:00:00Z", "2": "b"}, ev.Fields)
}

func TestCSVDecoder_Errors(t *testing.T) {
	_, err := NewCSVDecoder([]string{"a"}, "nope", 0, TimeFormat{})
	assert.Error(t, err)

	dec, err := NewCSVDecoder([]string{"a", "ts"}, "ts", 0, TimeFormat{})
	require.NoError(t, err)

	_, err = dec.Decode([]byte(`only-one`))
	assert.ErrorContains(t, err, "time column")

	_, err = dec.Decode([]byte(`x,"unterminated`))
	assert.ErrorContains(t, err, "invalid CSV line")

	_, err = dec.Decode([]byte(`x,not-a-time`))
	assert.ErrorContains(t, err, `column "ts"`)
}

func TestMarshalCanonical_SortsAndNormalizes(t *testing.T) {
	v := map[string]any{
		"b":  json.Number("1.50"),
		"a":  []any{true, nil, "x<y&z"},
		"é": "é",
		"n":  int64(-3),
	}
	got, err := MarshalCanonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[true,null,"x<y&z"],"b":1.50,"n":-3,"é":"é"}`, string(got))
}

func TestMarshalCanonical_UTF16Order(t *testing.T) {
	// U+1F600 sorts after U+FF61 in UTF-8 but before it in UTF-16.
	v := map[string]any{"\U0001F600": 1, "｡": 2}
	got, err := MarshalCanonical(v)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":1,\"｡\":2}", string(got))
}

func TestMarshalCanonical_Escapes(t *testing.T) {
	got, err := MarshalCanonical("q\"b\\n\n\x01 ")
	require.NoError(t, err)
	assert.Equal(t, "\"q\\\"b\\\\n\\n\\u0001 \"", string(got))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"f": 1.5})
	assert.ErrorContains(t, err, "floats are forbidden")

	_, err = MarshalCanonical(struct{}{})
	assert.ErrorContains(t, err, "unsupported type")

	_, err = MarshalCanonical(json.Number("abc"))
	assert.ErrorContains(t, err, "invalid number")
}

func TestEventID_StableAcrossKeyOrder(t *testing.T) {
	dec, err := NewJSONDecoder("ts", TimeFormat{})
	require.NoError(t, err)

	a, err := dec.Decode([]byte(`{"ts":"2024-01-01T00:00:00Z","k":1}`))
	require.NoError(t, err)
	b, err := dec.Decode([]byte(`{ "k": 1, "ts": "2024-01-01T00:00:00Z" }`))
	require.NoError(t, err)
	c, err := dec.Decode([]byte(`{"ts":"2024-01-01T00:00:00Z","k":2}`))
	require.NoError(t, err)

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
	assert.Len(t, a.ID(), 64)
}

func TestEventID_FallsBackToPayload(t *testing.T) {
	e1 := Event{Payload: []byte("x")}
	e2 := Event{Payload: []byte("y")}
	assert.NotEqual(t, e1.ID(), e2.ID())
	assert.Equal(t, hashWithDomain(DomainRecord, []byte("x")), e1.ID())
}
