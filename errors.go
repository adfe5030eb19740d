// Package versiontracker answers "is dependency D at version V out of
// date, and by how long?" for artifact coordinates drawn from a Maven
// Central style repository.
package versiontracker

import (
	"errors"
	"strings"
)

// Error is the versiontracker error domain type.
//
// Errors coming from versiontracker components should be inspectable
// ([errors.As]) as an *Error at some point in the error chain.
//
// Components should create an Error at the system boundary (HTTP call,
// file read, malformed input) and intermediate layers should prefer
// [fmt.Errorf] with a "%w" verb to add context over wrapping in
// another Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrNotFound, ErrUpstreamTransient, ErrUpstreamFailure,
		ErrInvalidFormat, ErrStorageIO, ErrCancelled, ErrProgrammer:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents the classes of error defined in §7 of the spec.
type ErrorKind string

// Error implements error so an ErrorKind can be compared with [errors.Is].
func (e ErrorKind) Error() string {
	return string(e)
}

// Defined error kinds.
const (
	// ErrNotFound: upstream repository returned 404 for a coordinate.
	ErrNotFound = ErrorKind("not found")
	// ErrUpstreamTransient: 5xx, connection reset, DNS failure; retried
	// with backoff before becoming ErrUpstreamFailure.
	ErrUpstreamTransient = ErrorKind("upstream transient")
	// ErrUpstreamFailure: non-transient upstream error, or parse failure
	// after retries are exhausted.
	ErrUpstreamFailure = ErrorKind("upstream failure")
	// ErrInvalidFormat: storage file header unrecognized. Fatal at
	// startup.
	ErrInvalidFormat = ErrorKind("invalid format")
	// ErrStorageIO: I/O error on a storage read or write.
	ErrStorageIO = ErrorKind("storage io")
	// ErrCancelled: request deadline or shutdown interrupted an
	// operation before it could complete.
	ErrCancelled = ErrorKind("cancelled")
	// ErrProgrammer: illegal argument, nil where forbidden. Aborts the
	// request; never retried.
	ErrProgrammer = ErrorKind("programmer error")
)
