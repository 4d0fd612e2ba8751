// Package event defines the wire and storage types shared by the timeline
// daemon's adapters: ingested CloudEvents, published notifications and the
// records written by the recorder.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// CloudEvent types produced and consumed by the daemon.
const (
	TypeSample        = "io.kaftimeline.sample"
	TypeObjectPushed  = "io.kaftimeline.object.pushed"
	TypeObjectRemoved = "io.kaftimeline.object.removed"
	TypeCleared       = "io.kaftimeline.cleared"
)

// CloudEvent represents a CloudEvents 1.0 event.
// See https://github.com/cloudevents/spec/blob/v1.0/spec.md
type CloudEvent struct {
	// Required attributes
	ID          string `json:"id"`
	Source      string `json:"source"`
	SpecVersion string `json:"specversion"`
	Type        string `json:"type"`

	// Optional attributes
	DataContentType *string    `json:"datacontenttype,omitempty"`
	DataSchema      *string    `json:"dataschema,omitempty"`
	Subject         *string    `json:"subject,omitempty"`
	Time            *time.Time `json:"time,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// KafkaMetadata contains Kafka-specific metadata for an event.
type KafkaMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Headers   map[string]string
	Timestamp time.Time
}

// PartitionID uniquely identifies a Kafka partition.
type PartitionID struct {
	Topic     string
	Partition int32
}

// String returns a string representation of the partition ID in the format "topic-partition".
func (p PartitionID) String() string {
	return fmt.Sprintf("%s-%d", p.Topic, p.Partition)
}

// ConsumedEvent represents an event consumed from Kafka.
type ConsumedEvent struct {
	Event      *CloudEvent
	Metadata   KafkaMetadata
	CommitFunc func() error
}

// Validator validates CloudEvents.
type Validator interface {
	// Validate checks if a CloudEvent is acceptable for ingestion.
	Validate(event *CloudEvent) error
}

// SamplePayload is the data of an ingested TypeSample event. The subject of
// the event names the target timeline; which of the value fields is used
// depends on that timeline's kind.
type SamplePayload struct {
	// Timestamp in milliseconds. The event time is used when absent.
	Timestamp *float64 `json:"timestamp,omitempty"`

	// Data holds raw bytes (base64 in JSON) for raw timelines.
	Data []byte `json:"data,omitempty"`

	// Matrix holds 16 row-major values for matrix timelines.
	Matrix []float64 `json:"matrix,omitempty"`

	// Level and Text describe a message for message timelines.
	Level string `json:"level,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Notification is the data of a published timeline notification.
type Notification struct {
	Timeline  string  `json:"timeline"`
	Kind      string  `json:"kind"`
	Timestamp float64 `json:"timestamp"`
	Size      int     `json:"size,omitempty"`
	Evicted   bool    `json:"evicted,omitempty"`
}

// Record is one timeline entry captured for archival.
type Record struct {
	Timeline   string
	Kind       string
	Timestamp  float64
	Data       []byte
	RecordedAt time.Time
}

// GetEventTime returns the entry timestamp as a time.Time.
func (r *Record) GetEventTime() time.Time {
	ms := int64(r.Timestamp)
	frac := r.Timestamp - float64(ms)
	return time.UnixMilli(ms).Add(time.Duration(frac * float64(time.Millisecond))).UTC()
}

// GetEventTimeUnix returns the entry timestamp as Unix seconds.
func (r *Record) GetEventTimeUnix() int64 {
	return r.GetEventTime().Unix()
}

// FileStats contains statistics about records pending archival.
type FileStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
}

// FileFormat represents the storage file format.
type FileFormat string

const (
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)
