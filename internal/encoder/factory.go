package encoder

import (
	"fmt"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	"github.com/jittakal/kaftimeline/pkg/encoder"
	"github.com/jittakal/kaftimeline/pkg/event"
)

// New creates the encoder selected by the recorder configuration.
func New(cfg dto.RecorderConfig) (encoder.Encoder, error) {
	switch event.FileFormat(cfg.Storage.Format) {
	case event.FormatParquet:
		return NewParquetEncoder(cfg.Parquet.Compression), nil
	case event.FormatAvro:
		return NewAvroEncoder(cfg.Avro.Codec)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", cfg.Storage.Format)
	}
}
