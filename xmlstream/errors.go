package xmlstream

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is returned, if the source document or its
	// grammar cannot be opened or read.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedInput is returned, if the document is not well-formed or
	// violates its grammar.
	ErrMalformedInput = errors.New("malformed input")
)

// MalformedInputError carries the position of a well-formedness or validity
// error. It matches ErrMalformedInput with errors.Is.
type MalformedInputError struct {
	Line   int
	Column int
	Offset int64
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%v: %v", ErrMalformedInput, e.Err)
	}
	return fmt.Sprintf("%v: line %d, column %d (offset %d): %v",
		ErrMalformedInput, e.Line, e.Column, e.Offset, e.Err)
}

func (e *MalformedInputError) Unwrap() []error {
	return []error{ErrMalformedInput, e.Err}
}

// readError marks errors that originate from the underlying reader, not from
// the XML decoder.
type readError struct {
	err error
}

func (e *readError) Error() string { return e.err.Error() }

func (e *readError) Unwrap() error { return e.err }
