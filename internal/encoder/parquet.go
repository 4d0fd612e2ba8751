// Package encoder writes timeline records as Parquet or Avro files.
package encoder

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/kaftimeline/pkg/encoder"
	"github.com/jittakal/kaftimeline/pkg/event"
)

var _ encoder.Encoder = (*ParquetEncoder)(nil)

// RecordParquet is the Parquet row layout of an archived timeline entry.
// Time columns use TIMESTAMP_MICROS for Athena and Spark.
type RecordParquet struct {
	Timeline    string    `parquet:"timeline,dict"`
	Kind        string    `parquet:"kind,dict"`
	TimestampMS float64   `parquet:"timestamp_ms"`
	EventTime   time.Time `parquet:"event_time,timestamp(microsecond)"`
	Size        int32     `parquet:"size"`
	Data        []byte    `parquet:"data"`
	RecordedAt  time.Time `parquet:"recorded_at,timestamp(microsecond)"`
}

// ParquetEncoder implements encoder.Encoder for Apache Parquet.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a Parquet encoder. Supported codecs are
// snappy (default), gzip, lz4, zstd and uncompressed.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{compressionName: compression}
}

func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Encode writes records to a Parquet file at filePath.
func (e *ParquetEncoder) Encode(filePath string, records []event.Record) (*event.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	rows := make([]RecordParquet, len(records))
	for i := range records {
		rows[i] = toParquet(&records[i])
	}

	writer := parquet.NewGenericWriter[RecordParquet](
		file,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("kaftimeline", "1.0", "0"),
	)
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		file.Close()
		return nil, fmt.Errorf("failed to write records: %w", err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return fileStats(filePath, records)
}

func toParquet(r *event.Record) RecordParquet {
	return RecordParquet{
		Timeline:    r.Timeline,
		Kind:        r.Kind,
		TimestampMS: r.Timestamp,
		EventTime:   r.GetEventTime(),
		Size:        int32(len(r.Data)),
		Data:        r.Data,
		RecordedAt:  r.RecordedAt.UTC(),
	}
}

// Format returns the file format.
func (e *ParquetEncoder) Format() event.FileFormat {
	return event.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}

// fileStats stats the encoded file and spans the record timestamps.
func fileStats(filePath string, records []event.Record) (*event.FileStats, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return &event.FileStats{
		RecordCount:    len(records),
		SizeBytes:      fileInfo.Size(),
		FirstWriteTime: records[0].RecordedAt,
		LastWriteTime:  records[len(records)-1].RecordedAt,
	}, nil
}
