package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	apperrors "github.com/jittakal/kaftimeline/internal/errors"
	"github.com/jittakal/kaftimeline/pkg/encoder"
	"github.com/jittakal/kaftimeline/pkg/event"
	"github.com/jittakal/kaftimeline/pkg/storage"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncFilesWritten(timeline, format, status string)
	ObserveFileSize(timeline, format string, size float64)
	ObserveStorageWriteDuration(timeline string, duration float64)
	IncStorageErrors(backend, operation string)
}

// uploader puts an encoded local file at key on a remote backend.
type uploader interface {
	upload(ctx context.Context, key string, file *os.File, contentType string) error
	location(key string) string
	close() error
}

// ObjectWriter implements storage.Writer for object stores. Records are
// encoded to a temporary file which is then uploaded.
type ObjectWriter struct {
	backend  string
	scheme   string
	store    uploader
	encoder  encoder.Encoder
	logger   *zap.Logger
	metrics  MetricsCollector
	sequence atomic.Uint64
	mu       sync.Mutex
	closed   bool
}

var _ storage.Writer = (*ObjectWriter)(nil)

func newObjectWriter(backend, scheme string, store uploader, enc encoder.Encoder, logger *zap.Logger, metrics MetricsCollector) *ObjectWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObjectWriter{
		backend: backend,
		scheme:  scheme,
		store:   store,
		encoder: enc,
		logger:  logger.With(zap.String("backend", backend)),
		metrics: metrics,
	}
}

// Write encodes records and uploads them under the key prefix of path.
func (w *ObjectWriter) Write(ctx context.Context, records []event.Record, path string, format event.FileFormat) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, apperrors.ErrWriterClosed
	}

	start := time.Now()
	name := fileName(records[0].Timeline, start, w.sequence.Add(1), w.encoder.FileExtension())
	key := objectKey(path, w.scheme) + name

	tmp, err := os.CreateTemp("", w.backend+"-upload-*"+w.encoder.FileExtension())
	if err != nil {
		w.storageError("create")
		return 0, &apperrors.StorageError{Operation: apperrors.OpCreate, Path: key, Err: err}
	}
	tempFile := tmp.Name()
	tmp.Close()
	defer os.Remove(tempFile)

	stats, err := w.encoder.Encode(tempFile, records)
	if err != nil {
		w.storageError("encode")
		return 0, &apperrors.StorageError{Operation: apperrors.OpEncode, Path: key, Err: err}
	}

	file, err := os.Open(tempFile)
	if err != nil {
		w.storageError("file_open")
		return 0, &apperrors.StorageError{Operation: apperrors.OpOpen, Path: key, Err: err}
	}
	defer file.Close()

	if err := w.store.upload(ctx, key, file, contentType(format)); err != nil {
		w.storageError("upload")
		return 0, &apperrors.StorageError{Operation: apperrors.OpUpload, Path: key, Err: err}
	}

	duration := time.Since(start)
	w.logger.Info("wrote records to object storage",
		zap.String("location", w.store.location(key)),
		zap.Int("record_count", stats.RecordCount),
		zap.Int64("file_size", stats.SizeBytes),
		zap.String("format", string(format)),
		zap.Int64("total_duration_ms", duration.Milliseconds()),
	)
	observeWrite(w.metrics, records[0].Timeline, format, stats.SizeBytes, duration)

	return stats.SizeBytes, nil
}

func (w *ObjectWriter) storageError(operation string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors(w.backend, operation)
	}
}

// Close releases the backend client. Later writes fail with ErrWriterClosed.
func (w *ObjectWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.logger.Info("closing object storage writer")
	return w.store.close()
}

// fileName returns <timeline>_YYYYMMDD_HHMMSS_<seq><ext>.
func fileName(timeline string, now time.Time, seq uint64, ext string) string {
	return fmt.Sprintf("%s_%s_%03d%s", timeline, now.UTC().Format("20060102_150405"), seq%1000, ext)
}

func contentType(format event.FileFormat) string {
	if format == event.FormatAvro {
		return "application/avro"
	}
	return "application/octet-stream"
}

func observeWrite(metrics MetricsCollector, timeline string, format event.FileFormat, size int64, duration time.Duration) {
	if metrics == nil {
		return
	}
	metrics.IncFilesWritten(timeline, string(format), "success")
	metrics.ObserveFileSize(timeline, string(format), float64(size))
	metrics.ObserveStorageWriteDuration(timeline, duration.Seconds())
}

// New creates the writer for the configured backend.
func New(ctx context.Context, cfg dto.StorageConfig, enc encoder.Encoder, logger *zap.Logger, metrics MetricsCollector) (storage.Writer, error) {
	switch cfg.Backend {
	case "file":
		return NewFileWriter(cfg.File, enc, logger, metrics)
	case "s3":
		return NewS3Writer(ctx, cfg.S3, enc, logger, metrics)
	case "gcs":
		return NewGCSWriter(ctx, cfg.GCS, enc, logger, metrics)
	case "azure":
		return NewAzureWriter(cfg.Azure, enc, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, azure, gcs)", cfg.Backend)
	}
}
