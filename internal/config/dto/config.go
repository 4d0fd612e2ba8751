package dto

import (
	"fmt"
	"time"
)

// Timeline kinds decide how ingested samples are decoded.
const (
	KindRaw     = "raw"
	KindMatrix  = "matrix"
	KindMessage = "message"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Timelines     []TimelineConfig    `mapstructure:"timelines"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Generator     GeneratorConfig     `mapstructure:"generator"`
	Recorder      RecorderConfig      `mapstructure:"recorder"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// TimelineConfig declares one named timeline hosted by the daemon
type TimelineConfig struct {
	Name            string `mapstructure:"name"`
	Kind            string `mapstructure:"kind"`
	MaxElements     int    `mapstructure:"max_elements"`
	DuplicatePolicy string `mapstructure:"duplicate_policy"`
	PoolBuffers     bool   `mapstructure:"pool_buffers"`
	MaxBufferSize   int    `mapstructure:"max_buffer_size"`
	// RetentionMS erases entries older than the newest entry minus this
	// window on every sweep. Zero keeps everything.
	RetentionMS int `mapstructure:"retention_ms"`
}

// Retention returns the retention window as a duration.
func (c TimelineConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMS) * time.Millisecond
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers []string      `mapstructure:"bootstrap_servers"`
	SecurityProtocol string        `mapstructure:"security_protocol"`
	SASLMechanism    string        `mapstructure:"sasl_mechanism"`
	SASLUsername     string        `mapstructure:"sasl_username"`
	SASLPassword     string        `mapstructure:"sasl_password"`
	TLS              TLSConfig     `mapstructure:"tls"`
	AWSMSK           AWSMSKConfig  `mapstructure:"aws_msk"`
	Ingest           IngestConfig  `mapstructure:"ingest"`
	Publish          PublishConfig `mapstructure:"publish"`
	DLQ              DLQConfig     `mapstructure:"dlq"`
}

// TLSConfig contains TLS settings for SASL_SSL
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACertFile         string `mapstructure:"ca_cert_file"`
	ClientCertFile     string `mapstructure:"client_cert_file"`
	ClientKeyFile      string `mapstructure:"client_key_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// AWSMSKConfig contains AWS MSK IAM settings
type AWSMSKConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
}

// IngestConfig configures the consumer that pushes samples onto timelines
type IngestConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
}

// PublishConfig configures the producer that forwards timeline notifications
type PublishConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Topic           string   `mapstructure:"topic"`
	Source          string   `mapstructure:"source"`
	Kinds           []string `mapstructure:"kinds"`
	QueueSize       int      `mapstructure:"queue_size"`
	RequiredAcks    int      `mapstructure:"required_acks"`
	CompressionType string   `mapstructure:"compression_type"`
	RetryMax        int      `mapstructure:"retry_max"`
	RetryBackoffMS  int      `mapstructure:"retry_backoff_ms"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
}

// GeneratorConfig configures the synthetic sample producer
type GeneratorConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	IntervalMS int      `mapstructure:"interval_ms"`
	Source     string   `mapstructure:"source"`
	Timelines  []string `mapstructure:"timelines"`
	// Target is "local" to push in-process or "kafka" to produce to Topic.
	Target string `mapstructure:"target"`
	Topic  string `mapstructure:"topic"`
}

// Interval returns the generation interval.
func (c GeneratorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// RecorderConfig configures archival of timeline entries
type RecorderConfig struct {
	Enabled         bool               `mapstructure:"enabled"`
	IntervalSeconds int                `mapstructure:"interval_seconds"`
	Timelines       []string           `mapstructure:"timelines"`
	Storage         StorageConfig      `mapstructure:"storage"`
	Rotation        FileRotationConfig `mapstructure:"rotation"`
	Parquet         ParquetConfig      `mapstructure:"parquet"`
	Avro            AvroConfig         `mapstructure:"avro"`
}

// Interval returns the polling interval.
func (c RecorderConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// StorageConfig contains storage backend configuration
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Format  string      `mapstructure:"format"`
	S3      S3Config    `mapstructure:"s3"`
	Azure   AzureConfig `mapstructure:"azure"`
	GCS     GCSConfig   `mapstructure:"gcs"`
	File    FileConfig  `mapstructure:"file"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	BasePath     string `mapstructure:"base_path"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	// AccountKey is normally supplied through ${AZURE_STORAGE_ACCOUNT_KEY}.
	// Without a key the client is anonymous, which suits SAS endpoints.
	AccountKey string `mapstructure:"account_key"`
	Container  string `mapstructure:"container"`
	BasePath   string `mapstructure:"base_path"`
	// Endpoint overrides the blob service URL, e.g. for Azurite.
	Endpoint string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	BasePath             string `mapstructure:"base_path"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	Endpoint             string `mapstructure:"endpoint"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// FileRotationConfig contains file rotation settings
type FileRotationConfig struct {
	MaxFileSizeMB      int64  `mapstructure:"max_file_size_mb"`
	MaxRecordsPerFile  int    `mapstructure:"max_records_per_file"`
	MaxDurationSeconds int    `mapstructure:"max_duration_seconds"`
	Strategy           string `mapstructure:"strategy"`
}

// ParquetConfig contains Parquet format settings
type ParquetConfig struct {
	Compression string `mapstructure:"compression"`
}

// AvroConfig contains Avro format settings
type AvroConfig struct {
	Codec string `mapstructure:"codec"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check and inspection API settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// GracePeriod returns the shutdown grace period.
func (c ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Timeline returns the named timeline configuration.
func (c *ApplicationConfig) Timeline(name string) (TimelineConfig, bool) {
	for _, tc := range c.Timelines {
		if tc.Name == name {
			return tc, true
		}
	}
	return TimelineConfig{}, false
}

// Validate validates a timeline declaration.
func (c *TimelineConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("timeline name is required")
	}
	switch c.Kind {
	case KindRaw, KindMatrix, KindMessage:
	default:
		return fmt.Errorf("timeline %s: unsupported kind: %s", c.Name, c.Kind)
	}
	if c.MaxElements < 0 {
		return fmt.Errorf("timeline %s: max_elements must not be negative", c.Name)
	}
	if c.RetentionMS < 0 {
		return fmt.Errorf("timeline %s: retention_ms must not be negative", c.Name)
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}
