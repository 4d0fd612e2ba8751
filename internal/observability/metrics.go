package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Timeline metrics
	TimelineEvents    *prometheus.CounterVec
	TimelineEvictions *prometheus.CounterVec
	TimelineSwept     prometheus.Counter

	// Ingest metrics
	MessagesConsumed *prometheus.CounterVec
	SamplesIngested  *prometheus.CounterVec
	DLQPublished     *prometheus.CounterVec
	IngestDuration   *prometheus.HistogramVec

	// Publish metrics
	NotificationsPublished *prometheus.CounterVec
	PublishDuration        *prometheus.HistogramVec

	// Generator metrics
	SamplesGenerated *prometheus.CounterVec

	// Recorder and storage metrics
	RecordsRecorded      *prometheus.CounterVec
	FilesWritten         *prometheus.CounterVec
	StorageWriteDuration *prometheus.HistogramVec
	FileSize             *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		TimelineEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeline_events_total",
				Help: "Total number of timeline notifications by kind",
			},
			[]string{"timeline", "kind"},
		),
		TimelineEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeline_evictions_total",
				Help: "Total number of entries evicted by the capacity bound",
			},
			[]string{"timeline"},
		),
		TimelineSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "timeline_swept_total",
				Help: "Total number of entries erased by retention sweeps",
			},
		),

		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		SamplesIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samples_ingested_total",
				Help: "Total number of consumed samples by outcome",
			},
			[]string{"timeline", "status"},
		),
		DLQPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_dlq_published_total",
				Help: "Total number of events sent to the dead letter queue",
			},
			[]string{"topic", "status"},
		),
		IngestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_duration_seconds",
				Help:    "Duration of decoding and pushing one sample",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"timeline"},
		),

		NotificationsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_notifications_published_total",
				Help: "Total number of timeline notifications produced to Kafka",
			},
			[]string{"topic", "kind", "status"},
		),
		PublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_publish_duration_seconds",
				Help:    "Duration of notification production",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),

		SamplesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generator_samples_total",
				Help: "Total number of synthetic samples generated",
			},
			[]string{"timeline", "status"},
		),

		RecordsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_records_total",
				Help: "Total number of timeline entries captured for archival",
			},
			[]string{"timeline"},
		),
		FilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "files_written_total",
				Help: "Total number of files written to storage",
			},
			[]string{"timeline", "format", "status"},
		),
		StorageWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_write_duration_seconds",
				Help:    "Duration of complete storage write operations including encoding",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"timeline"},
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "file_size_bytes",
				Help:    "Size of files written to storage",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"timeline", "format"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),
	}
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncSamplesIngested increments the ingest outcome counter.
func (m *Metrics) IncSamplesIngested(timeline, status string) {
	m.SamplesIngested.WithLabelValues(timeline, status).Inc()
}

// IncDLQPublished increments the dead letter counter.
func (m *Metrics) IncDLQPublished(topic, status string) {
	m.DLQPublished.WithLabelValues(topic, status).Inc()
}

// ObserveIngestDuration observes the time spent on one sample.
func (m *Metrics) ObserveIngestDuration(timeline string, duration float64) {
	m.IngestDuration.WithLabelValues(timeline).Observe(duration)
}

// IncNotificationsPublished increments the published notification counter.
func (m *Metrics) IncNotificationsPublished(topic, kind, status string) {
	m.NotificationsPublished.WithLabelValues(topic, kind, status).Inc()
}

// ObservePublishDuration observes notification production latency.
func (m *Metrics) ObservePublishDuration(topic string, duration float64) {
	m.PublishDuration.WithLabelValues(topic).Observe(duration)
}

// IncSamplesGenerated increments the generator counter.
func (m *Metrics) IncSamplesGenerated(timeline, status string) {
	m.SamplesGenerated.WithLabelValues(timeline, status).Inc()
}

// AddRecordsRecorded adds n captured records for a timeline.
func (m *Metrics) AddRecordsRecorded(timeline string, n int) {
	m.RecordsRecorded.WithLabelValues(timeline).Add(float64(n))
}

// IncFilesWritten increments files written counter.
func (m *Metrics) IncFilesWritten(timeline, format, status string) {
	m.FilesWritten.WithLabelValues(timeline, format, status).Inc()
}

// ObserveFileSize observes file size.
func (m *Metrics) ObserveFileSize(timeline, format string, size float64) {
	m.FileSize.WithLabelValues(timeline, format).Observe(size)
}

// ObserveStorageWriteDuration observes storage write duration.
func (m *Metrics) ObserveStorageWriteDuration(timeline string, duration float64) {
	m.StorageWriteDuration.WithLabelValues(timeline).Observe(duration)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// AddSwept adds entries erased by a retention sweep.
func (m *Metrics) AddSwept(n int) {
	m.TimelineSwept.Add(float64(n))
}
