package encoder

import (
	"fmt"
	"os"

	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/kaftimeline/pkg/encoder"
	"github.com/jittakal/kaftimeline/pkg/event"
)

var _ encoder.Encoder = (*AvroEncoder)(nil)

// recordSchema is the Avro schema of an archived timeline entry.
const recordSchema = `{
	"type": "record",
	"name": "TimelineRecord",
	"namespace": "io.kaftimeline",
	"fields": [
		{"name": "timeline", "type": "string"},
		{"name": "kind", "type": "string"},
		{"name": "timestamp_ms", "type": "double"},
		{"name": "event_time", "type": {"type": "long", "logicalType": "timestamp-micros"}},
		{"name": "data", "type": "bytes"},
		{"name": "recorded_at", "type": {"type": "long", "logicalType": "timestamp-micros"}}
	]
}`

// AvroEncoder implements encoder.Encoder for Avro object container files.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates an Avro encoder. codec is snappy, deflate (gzip
// is accepted as an alias) or null.
func NewAvroEncoder(codec string) (*AvroEncoder, error) {
	c, err := goavro.NewCodec(recordSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}
	return &AvroEncoder{codec: c, compression: compressionName(codec)}, nil
}

func compressionName(codec string) string {
	switch codec {
	case "snappy", "SNAPPY":
		return goavro.CompressionSnappyLabel
	case "deflate", "DEFLATE", "gzip", "GZIP":
		return goavro.CompressionDeflateLabel
	default:
		return goavro.CompressionNullLabel
	}
}

// Encode writes records to an Avro file at filePath.
func (e *AvroEncoder) Encode(filePath string, records []event.Record) (*event.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               file,
		Codec:           e.codec,
		CompressionName: e.compression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	batch := make([]interface{}, len(records))
	for i := range records {
		batch[i] = toAvro(&records[i])
	}
	if err := ocfWriter.Append(batch); err != nil {
		return nil, fmt.Errorf("failed to write records: %w", err)
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return fileStats(filePath, records)
}

func toAvro(r *event.Record) map[string]interface{} {
	return map[string]interface{}{
		"timeline":     r.Timeline,
		"kind":         r.Kind,
		"timestamp_ms": r.Timestamp,
		"event_time":   r.GetEventTime(),
		"data":         r.Data,
		"recorded_at":  r.RecordedAt.UTC(),
	}
}

// Format returns the file format.
func (e *AvroEncoder) Format() event.FileFormat {
	return event.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	return ".avro"
}
