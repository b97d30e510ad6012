package record

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// CSVDecoder decodes one CSV row per line.
//
// Rows are decoded independently, so quoted fields must not span lines.
type CSVDecoder struct {
	// Columns names the row cells in order. Cells beyond Columns are keyed
	// by their 0-based index.
	Columns []string

	// TimeColumn is the name (or 0-based index) of the event time cell.
	TimeColumn string

	// Comma is the field delimiter. Default ','.
	Comma rune

	Format TimeFormat

	timeIdx int
}

// NewCSVDecoder creates a decoder. timeColumn may be a name from columns or
// a 0-based index.
func NewCSVDecoder(columns []string, timeColumn string, comma rune, format TimeFormat) (*CSVDecoder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if comma == 0 {
		comma = ','
	}

	idx := -1
	for i, c := range columns {
		if c == timeColumn {
			idx = i
			break
		}
	}
	if idx < 0 {
		n, err := strconv.Atoi(timeColumn)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("time column %q is neither a column name nor an index", timeColumn)
		}
		idx = n
	}

	return &CSVDecoder{
		Columns:    columns,
		TimeColumn: timeColumn,
		Comma:      comma,
		Format:     format,
		timeIdx:    idx,
	}, nil
}

// Decode implements emitter.Decoder.
func (d *CSVDecoder) Decode(raw []byte) (Event, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.Comma = d.Comma
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	row, err := r.Read()
	if err != nil {
		return Event{}, fmt.Errorf("invalid CSV line: %w", err)
	}
	if d.timeIdx >= len(row) {
		return Event{}, fmt.Errorf("row has %d cells, time column %q is at %d", len(row), d.TimeColumn, d.timeIdx)
	}

	t, err := d.Format.Parse(row[d.timeIdx])
	if err != nil {
		return Event{}, fmt.Errorf("column %q: %w", d.TimeColumn, err)
	}

	fields := make(map[string]any, len(row))
	for i, cell := range row {
		key := strconv.Itoa(i)
		if i < len(d.Columns) {
			key = d.Columns[i]
		}
		fields[key] = cell
	}

	return Event{
		Time:    t,
		Payload: raw,
		Fields:  fields,
	}, nil
}
