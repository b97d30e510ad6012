// Package sink provides destinations for emitted records.
//
// Writer sinks re-emit the raw line or a JSON envelope carrying pacing
// metadata. Channel hands records to another goroutine. Tee fans one
// emission out to several sinks in order. All sinks accept record.Event;
// Channel is generic over any emitter.Record.
package sink
