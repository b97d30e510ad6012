// Package record provides the concrete record type replayed by the pacer CLI
// and the decoders that turn raw input lines into records.
//
// An Event keeps the raw line it was decoded from (Payload) so sinks can
// re-emit it byte-for-byte, plus the decoded fields and the extracted event
// time. Two line formats are supported:
//
//   - JSON lines: one object per line, event time at a (dotted) field path
//   - CSV lines: one row per line, event time in a named or indexed column
//
// Event times are either formatted strings (a time.Parse layout, RFC 3339 by
// default) or numeric Unix epochs in seconds or milliseconds.
//
// Records are identified by a content-addressed ID: SHA-256 over the
// canonical JSON of the decoded fields, with domain separation. The same
// line always yields the same ID, which lets emission logs and golden traces
// be compared across runs.
package record
