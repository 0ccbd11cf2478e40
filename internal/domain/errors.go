package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that no record exists for the requested key.
	ErrNotFound = errors.New("not found")

	// ErrMalformedGeometry reports fence data that doesn't match a Point or Polygon shape.
	ErrMalformedGeometry = errors.New("malformed geometry")
)

// SourceError wraps a transport, timeout, or payload failure from an external read.
type SourceError struct {
	Source string
	Err    error
}

// NewSourceError attributes err to the named source.
func NewSourceError(source string, err error) *SourceError {
	return &SourceError{Source: source, Err: err}
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s source: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsSourceError reports whether err is, or wraps, a *SourceError.
func IsSourceError(err error) bool {
	var se *SourceError
	return errors.As(err, &se)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedGeometry, fmt.Sprintf(format, args...))
}
