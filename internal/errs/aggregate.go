package errs

import (
	"fmt"
	"strings"
)

// Failure is one member's error inside an AggregateError.
type Failure struct {
	Name string
	Err  error
}

// AggregateError collects the failures of a fan-out operation, in the order
// the members were configured. It is only produced by the mux driver.
type AggregateError struct {
	Op       string
	Failures []Failure
}

// Error lists every failed member and its cause.
func (e *AggregateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d driver(s) failed", e.Op, len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; %s: %v", f.Name, f.Err)
	}
	return b.String()
}

// Unwrap exposes the member errors to errors.Is/errors.As.
func (e *AggregateError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// ErrorCode implements Coder.
func (e *AggregateError) ErrorCode() Code {
	return AggregateErrorCode
}

// Names returns the names of the failed members.
func (e *AggregateError) Names() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Name
	}
	return names
}
