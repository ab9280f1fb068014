// Package errs defines the error taxonomy shared by the KCIDB drivers, the
// pattern resolver and the driver registry.
//
// Every error that crosses a package boundary carries a Code. Callers
// classify errors with Is or CodeOf instead of matching message text:
//
//	if errs.Is(err, errs.SchemaVersionMismatch) {
//	    // upgrade the database, then retry the load
//	}
//
// Errors keep their cause chain, so errors.Is/errors.As against the wrapped
// error (for example context.DeadlineExceeded) keep working.
package errs

import (
	"errors"
	"fmt"
)

// Code categorizes an error.
type Code string

const (
	ConnectionError       Code = "ConnectionError"
	Uninitialized         Code = "Uninitialized"
	AlreadyExists         Code = "AlreadyExists"
	UnsupportedVersion    Code = "UnsupportedVersion"
	DowngradeRequired     Code = "DowngradeRequired"
	SchemaVersionMismatch Code = "SchemaVersionMismatch"
	ReferentialError      Code = "ReferentialError"
	NotFound              Code = "NotFound"
	UnsupportedOperation  Code = "UnsupportedOperation"
	Timeout               Code = "Timeout"
	PatternSyntaxError    Code = "PatternSyntaxError"
	UnknownTypeError      Code = "UnknownTypeError"
	UnknownDriverError    Code = "UnknownDriverError"
	AggregateErrorCode    Code = "AggregateError"
	InvalidDocument       Code = "InvalidDocument"
)

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrConnection            = &Error{Code: ConnectionError}
	ErrUninitialized         = &Error{Code: Uninitialized}
	ErrAlreadyExists         = &Error{Code: AlreadyExists}
	ErrUnsupportedVersion    = &Error{Code: UnsupportedVersion}
	ErrDowngradeRequired     = &Error{Code: DowngradeRequired}
	ErrSchemaVersionMismatch = &Error{Code: SchemaVersionMismatch}
	ErrReferential           = &Error{Code: ReferentialError}
	ErrNotFound              = &Error{Code: NotFound}
	ErrUnsupportedOperation  = &Error{Code: UnsupportedOperation}
	ErrTimeout               = &Error{Code: Timeout}
	ErrUnknownDriver         = &Error{Code: UnknownDriverError}
	ErrInvalidDocument       = &Error{Code: InvalidDocument}
)

// Error is a categorized error raised by a driver operation.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op is the operation that failed ("init", "load", ...). Optional.
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause. Optional.
	Err error
}

// New creates an Error with a formatted message.
func New(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an underlying cause.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ErrorCode implements Coder.
func (e *Error) ErrorCode() Code {
	return e.Code
}

// Coder is implemented by every error type that carries a Code.
type Coder interface {
	ErrorCode() Code
}

// CodeOf returns the code of the first Coder in err's chain, or "" if none.
func CodeOf(err error) Code {
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}

// Is reports whether err's chain carries the given code. Multi-errors such
// as AggregateError are searched member by member.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	if c, ok := err.(Coder); ok && c.ErrorCode() == code {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return Is(u.Unwrap(), code)
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if Is(e, code) {
				return true
			}
		}
	}
	return false
}
