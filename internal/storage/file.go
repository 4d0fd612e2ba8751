package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	apperrors "github.com/jittakal/kaftimeline/internal/errors"
	"github.com/jittakal/kaftimeline/pkg/encoder"
	"github.com/jittakal/kaftimeline/pkg/event"
	"github.com/jittakal/kaftimeline/pkg/storage"
)

var _ storage.Writer = (*FileWriter)(nil)

// FileWriter implements storage.Writer for the local filesystem.
type FileWriter struct {
	basePath      string
	encoder       encoder.Encoder
	logger        *zap.Logger
	metrics       MetricsCollector
	mu            sync.Mutex
	fileSequence  int
	lastTimestamp string
	closed        bool
}

// NewFileWriter creates a filesystem writer rooted at cfg.BasePath.
func NewFileWriter(cfg dto.FileConfig, enc encoder.Encoder, logger *zap.Logger, metrics MetricsCollector) (*FileWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Info("filesystem writer created",
		zap.String("base_path", cfg.BasePath),
		zap.String("format", string(enc.Format())),
	)

	return &FileWriter{
		basePath: cfg.BasePath,
		encoder:  enc,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Write encodes records into a new file under basePath/path.
func (w *FileWriter) Write(ctx context.Context, records []event.Record, path string, format event.FileFormat) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, apperrors.ErrWriterClosed
	}

	start := time.Now()
	timestamp := start.UTC().Format("20060102_150405")
	if timestamp == w.lastTimestamp {
		w.fileSequence++
	} else {
		w.fileSequence = 1
		w.lastTimestamp = timestamp
	}
	name := fmt.Sprintf("%s_%s_%03d%s", records[0].Timeline, timestamp, w.fileSequence, w.encoder.FileExtension())

	dir := filepath.Join(w.basePath, filepath.FromSlash(strings.TrimPrefix(path, "file://")))
	fullPath := filepath.Join(dir, name)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.storageError("mkdir")
		return 0, &apperrors.StorageError{Operation: apperrors.OpCreate, Path: dir, Err: err}
	}

	stats, err := w.encoder.Encode(fullPath, records)
	if err != nil {
		w.storageError("encode")
		return 0, &apperrors.StorageError{Operation: apperrors.OpWrite, Path: fullPath, Err: err}
	}

	duration := time.Since(start)
	w.logger.Info("wrote records to file",
		zap.String("path", fullPath),
		zap.Int("record_count", stats.RecordCount),
		zap.Int64("file_size", stats.SizeBytes),
		zap.String("format", string(format)),
		zap.Int64("total_duration_ms", duration.Milliseconds()),
	)
	observeWrite(w.metrics, records[0].Timeline, format, stats.SizeBytes, duration)

	return stats.SizeBytes, nil
}

func (w *FileWriter) storageError(operation string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("file", operation)
	}
}

// Close closes the writer.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.logger.Info("closing filesystem writer")
	return nil
}
