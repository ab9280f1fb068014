package orm

import (
	"fmt"

	"github.com/kernelci/kcidb/internal/errs"
)

// SyntaxError reports a malformed pattern.
type SyntaxError struct {
	Pattern string
	Pos     int    // byte offset into Pattern
	Near    string // text starting at Pos
	Msg     string
}

func (e *SyntaxError) Error() string {
	if e.Near == "" {
		return fmt.Sprintf("pattern %q: %s at end of input", e.Pattern, e.Msg)
	}
	return fmt.Sprintf("pattern %q: %s at position %d near %q", e.Pattern, e.Msg, e.Pos, e.Near)
}

// ErrorCode implements errs.Coder.
func (e *SyntaxError) ErrorCode() errs.Code {
	return errs.PatternSyntaxError
}

// UnknownTypeError reports a type token naming no object type.
type UnknownTypeError struct {
	Pattern string
	Name    string
	Pos     int
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("pattern %q: unknown object type %q at position %d", e.Pattern, e.Name, e.Pos)
}

// ErrorCode implements errs.Coder.
func (e *UnknownTypeError) ErrorCode() errs.Code {
	return errs.UnknownTypeError
}
