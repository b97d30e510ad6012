package emitter

import (
	"errors"
	"fmt"
	"time"
)

// ReplayError represents a failure detected while constructing or running an
// Emitter.
//
// Replay errors include:
//   - Configuration: invalid construction parameters (e.g. speed < 1)
//   - Resource: input cannot be opened, read, or released
//   - Decode: a raw unit cannot be parsed into a Record
//   - Interrupted: a pacing wait was cut short by cancellation
//   - Sink: the downstream sink rejected a record
//
// Interrupted is the expected signal path for a graceful stop. Run never
// returns it to the caller.
type ReplayError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed ("new", "open", "read", "close", ...).
	Op string

	// Message is a human-readable description.
	Message string

	// Source is the name of the input source, if known.
	Source string

	// Line is the 1-based raw unit number for decode and sink errors.
	Line int64

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes replay errors.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates invalid construction parameters.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeResource indicates the input could not be opened, read, or released.
	ErrCodeResource ErrorCode = "RESOURCE"

	// ErrCodeDecode indicates a raw unit could not be decoded.
	ErrCodeDecode ErrorCode = "DECODE"

	// ErrCodeInterrupted indicates a wait was interrupted by cancellation.
	ErrCodeInterrupted ErrorCode = "INTERRUPTED"

	// ErrCodeSink indicates the sink failed to accept a record.
	ErrCodeSink ErrorCode = "SINK"
)

// Error implements the error interface.
func (e *ReplayError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
	if e.Source != "" && e.Line > 0 {
		msg = fmt.Sprintf("%s (source=%s, line=%d)", msg, e.Source, e.Line)
	} else if e.Source != "" {
		msg = fmt.Sprintf("%s (source=%s)", msg, e.Source)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ReplayError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsConfigurationError returns true if err is a CONFIGURATION error.
func IsConfigurationError(err error) bool { return hasCode(err, ErrCodeConfiguration) }

// IsResourceError returns true if err is a RESOURCE error.
func IsResourceError(err error) bool { return hasCode(err, ErrCodeResource) }

// IsDecodeError returns true if err is a DECODE error.
func IsDecodeError(err error) bool { return hasCode(err, ErrCodeDecode) }

// IsInterrupted returns true if err is an INTERRUPTED signal.
func IsInterrupted(err error) bool { return hasCode(err, ErrCodeInterrupted) }

// IsSinkError returns true if err is a SINK error.
func IsSinkError(err error) bool { return hasCode(err, ErrCodeSink) }

// NewConfigurationError creates a CONFIGURATION error.
func NewConfigurationError(message string) *ReplayError {
	return &ReplayError{Code: ErrCodeConfiguration, Op: "new", Message: message}
}

// NewResourceError creates a RESOURCE error for the given operation.
func NewResourceError(op, source, message string, err error) *ReplayError {
	return &ReplayError{Code: ErrCodeResource, Op: op, Source: source, Message: message, Err: err}
}

// NewDecodeError creates a DECODE error for the raw unit at line.
func NewDecodeError(source string, line int64, err error) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeDecode,
		Op:      "decode",
		Message: "raw unit could not be decoded",
		Source:  source,
		Line:    line,
		Err:     err,
	}
}

// NewInterruptedError creates the INTERRUPTED signal for a wait of d.
func NewInterruptedError(d time.Duration) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeInterrupted,
		Op:      "wait",
		Message: fmt.Sprintf("wait of %dms interrupted", d.Milliseconds()),
	}
}

// NewSinkError creates a SINK error for the record at line.
func NewSinkError(source string, line int64, err error) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeSink,
		Op:      "collect",
		Message: "sink rejected record",
		Source:  source,
		Line:    line,
		Err:     err,
	}
}
