package contour

import (
	"errors"
	"fmt"
)

// Code classifies contour failures.
type Code string

const (
	CodeInvalidParameter       Code = "INVALID_PARAMETER"
	CodeMissingReferenceVolume Code = "MISSING_REFERENCE_VOLUME"
	CodeUnsupportedConversion  Code = "UNSUPPORTED_CONVERSION"
	CodeConversionFailed       Code = "CONVERSION_FAILED"
	CodeNotReferenced          Code = "NOT_REFERENCED"
	CodeCallerEventMismatch    Code = "CALLER_EVENT_MISMATCH"
	CodeNotImplemented         Code = "NOT_IMPLEMENTED"
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its code.
var (
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrMissingReferenceVolume = errors.New("missing reference volume")
	ErrUnsupportedConversion  = errors.New("unsupported conversion")
	ErrConversionFailed       = errors.New("conversion failed")
	ErrNotReferenced          = errors.New("node is not a representation of the contour")
	ErrCallerEventMismatch    = errors.New("event does not come from the active representation")
	ErrNotImplemented         = errors.New("not implemented")
)

var sentinels = map[Code]error{
	CodeInvalidParameter:       ErrInvalidParameter,
	CodeMissingReferenceVolume: ErrMissingReferenceVolume,
	CodeUnsupportedConversion:  ErrUnsupportedConversion,
	CodeConversionFailed:       ErrConversionFailed,
	CodeNotReferenced:          ErrNotReferenced,
	CodeCallerEventMismatch:    ErrCallerEventMismatch,
	CodeNotImplemented:         ErrNotImplemented,
}

// Error is a contour operation failure.
type Error struct {
	Code    Code
	Contour string // contour name
	Message string
	Err     error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Contour != "" {
		msg += fmt.Sprintf(" (contour: %s)", e.Contour)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel of e's code.
func (e *Error) Is(target error) bool {
	return sentinels[e.Code] == target
}

func (e *Error) Unwrap() error { return e.Err }

// Soft reports whether the failure is recoverable by asking for something
// else, as opposed to a hard precondition or numeric failure.
func (e *Error) Soft() bool {
	return e.Code == CodeUnsupportedConversion || e.Code == CodeCallerEventMismatch
}

func newError(code Code, e *Entity, cause error, format string, args ...any) *Error {
	err := &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
	if e != nil {
		err.Contour = e.Name
	}
	return err
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
