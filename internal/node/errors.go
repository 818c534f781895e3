package node

import (
	"errors"
	"fmt"
)

// Error represents a node failure with a structured code.
//
// Only startup failures (ErrCodeConfig, ErrCodeBind) ever reach the caller of
// New or Start. Dial exhaustion and malformed payloads are contained at the
// connection boundary: they are logged with the same Error value so log lines
// and tests share one vocabulary.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Addr is the endpoint involved, if any.
	Addr string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes node errors.
type ErrorCode string

const (
	// ErrCodeConfig indicates the node configuration failed validation.
	ErrCodeConfig ErrorCode = "CONFIG_INVALID"

	// ErrCodeBind indicates the listening endpoint could not be bound.
	ErrCodeBind ErrorCode = "BIND_FAILED"

	// ErrCodeDialExhausted indicates every dial attempt to a peer failed.
	ErrCodeDialExhausted ErrorCode = "DIAL_EXHAUSTED"

	// ErrCodeMalformed indicates an inbound payload could not be decoded.
	ErrCodeMalformed ErrorCode = "MALFORMED_PAYLOAD"

	// ErrCodeState indicates a lifecycle method was called in the wrong state.
	ErrCodeState ErrorCode = "INVALID_STATE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Addr != "" {
		msg += fmt.Sprintf(" (addr=%s)", e.Addr)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Code == code
	}
	return false
}

// IsConfigError returns true if err is a configuration validation error.
func IsConfigError(err error) bool { return hasCode(err, ErrCodeConfig) }

// IsBindError returns true if the listening endpoint could not be bound.
func IsBindError(err error) bool { return hasCode(err, ErrCodeBind) }

// IsDialError returns true if err reports an exhausted dial.
func IsDialError(err error) bool { return hasCode(err, ErrCodeDialExhausted) }

// IsMalformed returns true if err reports an undecodable payload.
func IsMalformed(err error) bool { return hasCode(err, ErrCodeMalformed) }

func newConfigError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeConfig, Message: fmt.Sprintf(format, args...)}
}

func newBindError(addr string, err error) *Error {
	return &Error{Code: ErrCodeBind, Message: "cannot bind listening endpoint", Addr: addr, Err: err}
}

func newDialError(addr string, attempts int, err error) *Error {
	return &Error{
		Code:    ErrCodeDialExhausted,
		Message: fmt.Sprintf("giving up after %d attempts", attempts),
		Addr:    addr,
		Err:     err,
	}
}

func newMalformedError(payload string, err error) *Error {
	return &Error{Code: ErrCodeMalformed, Message: fmt.Sprintf("cannot decode %q", payload), Err: err}
}
