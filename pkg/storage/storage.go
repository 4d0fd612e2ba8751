// Package storage defines interfaces for archiving timeline records.
//
// Writers put encoded records on a backend (local filesystem, S3, GCS,
// Azure Blob); a Router decides where, and a RotationPolicy decides when.
package storage

import (
	"context"

	"github.com/jittakal/kaftimeline/pkg/event"
)

// Writer writes timeline records to storage.
type Writer interface {
	// Write writes records to storage at the specified path.
	// Returns the number of bytes written.
	Write(ctx context.Context, records []event.Record, path string, format event.FileFormat) (int64, error)

	// Close closes the writer and releases resources.
	Close() error
}

// Router determines storage paths for a timeline's records.
type Router interface {
	// Route returns the storage path for a timeline at a given time.
	// timestamp is Unix seconds of the first record in the batch.
	Route(timeline string, timestamp int64) string
}

// RotationPolicy determines when pending records are flushed to storage.
type RotationPolicy interface {
	// ShouldRotate returns true if pending records should be written.
	ShouldRotate(stats event.FileStats) bool
}
