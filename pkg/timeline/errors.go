package timeline

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by timeline operations.
var (
	ErrNotFound         = errors.New("object not found")
	ErrAllocation       = errors.New("buffer allocation failed")
	ErrTypeMismatch     = errors.New("element size mismatch")
	ErrDuplicate        = errors.New("duplicate timestamp")
	ErrClosed           = errors.New("timeline is closed")
	ErrImmutable        = errors.New("buffer is owned by a timeline")
	ErrInvalidElement   = errors.New("element type is not fixed-size")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// AllocationError reports a buffer that could not be created.
type AllocationError struct {
	Size  int
	Limit int
}

func (e *AllocationError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("allocation error: size=%d limit=%d", e.Size, e.Limit)
	}
	return fmt.Sprintf("allocation error: size=%d", e.Size)
}

func (e *AllocationError) Unwrap() error {
	return ErrAllocation
}

// TypeMismatchError reports a stored buffer whose size differs from the
// element size expected by a Generic timeline. It always indicates mixed
// producer types on one timeline.
type TypeMismatchError struct {
	Timeline  string
	Timestamp Timestamp
	Want      int
	Got       int
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: timeline=%s timestamp=%v want=%d bytes got=%d bytes",
		e.Timeline, e.Timestamp, e.Want, e.Got)
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}
