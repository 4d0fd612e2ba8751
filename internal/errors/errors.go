// Package errors holds the error values shared by ingest, publishing and
// archival.
package errors

import (
	"errors"
	"fmt"

	"github.com/jittakal/kaftimeline/pkg/event"
	"github.com/jittakal/kaftimeline/pkg/timeline"
)

var (
	ErrConsumerClosed  = errors.New("consumer is closed")
	ErrPublisherClosed = errors.New("publisher is closed")
	ErrUnknownTimeline = errors.New("unknown timeline")
	ErrInvalidEvent    = errors.New("invalid event")
	ErrInvalidPayload  = errors.New("invalid sample payload")
	ErrWriterClosed    = errors.New("storage writer is closed")
)

// Storage operations reported by StorageError.
const (
	OpCreate = "create"
	OpEncode = "encode"
	OpOpen   = "file_open"
	OpWrite  = "write"
	OpUpload = "upload"
)

// PushError is a decoded sample its timeline refused.
type PushError struct {
	Timeline  string
	Kind      string
	Timestamp timeline.Timestamp
	Err       error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push %s sample to timeline %q at %v: %v",
		e.Kind, e.Timeline, float64(e.Timestamp), e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// ValidationError names the CloudEvent field a sample failed on.
type ValidationError struct {
	EventID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sample %s: field %s: %s", e.EventID, e.Field, e.Reason)
}

// Unwrap lets callers match validation failures with ErrInvalidEvent.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}

// StorageError is a failed archive step for one object.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("archive %s %s: %v", e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CommitError is an offset that could not be marked after its sample was
// handled.
type CommitError struct {
	Timeline    string
	PartitionID event.PartitionID
	Offset      int64
	Err         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s offset %d for timeline %q: %v",
		e.PartitionID, e.Offset, e.Timeline, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Permanent reports whether handing the same input back is bound to fail
// again: records the encoder rejects, or samples that are malformed.
func Permanent(err error) bool {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.Operation == OpEncode
	}
	return errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrInvalidEvent)
}

// StopsIngest reports whether err leaves nothing to push onto, so the
// consumer should stop instead of committing past the sample.
func StopsIngest(err error) bool {
	return errors.Is(err, timeline.ErrClosed)
}
