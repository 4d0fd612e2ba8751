package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	"github.com/jittakal/kaftimeline/pkg/timeline"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Only expand values containing a ${...} reference
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyTimelineDefaults(&config)

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	l.v.SetDefault("application.name", "kaftimeline")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.ingest.enabled", false)
	l.v.SetDefault("kafka.ingest.auto_offset_reset", "latest")
	l.v.SetDefault("kafka.ingest.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.ingest.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.publish.enabled", false)
	l.v.SetDefault("kafka.publish.source", "kaftimeline")
	l.v.SetDefault("kafka.publish.queue_size", 1024)
	l.v.SetDefault("kafka.publish.required_acks", 1)
	l.v.SetDefault("kafka.publish.compression_type", "snappy")
	l.v.SetDefault("kafka.publish.retry_max", 3)
	l.v.SetDefault("kafka.publish.retry_backoff_ms", 100)
	l.v.SetDefault("kafka.dlq.enabled", true)
	l.v.SetDefault("kafka.dlq.topic_suffix", "-dlq")

	l.v.SetDefault("generator.enabled", false)
	l.v.SetDefault("generator.interval_ms", 33)
	l.v.SetDefault("generator.source", "kaftimeline-generator")
	l.v.SetDefault("generator.target", "local")

	l.v.SetDefault("recorder.enabled", false)
	l.v.SetDefault("recorder.interval_seconds", 10)
	l.v.SetDefault("recorder.storage.backend", "file")
	l.v.SetDefault("recorder.storage.format", "parquet")
	l.v.SetDefault("recorder.storage.file.base_path", "./data")
	l.v.SetDefault("recorder.storage.s3.sse_enabled", true)
	l.v.SetDefault("recorder.rotation.max_file_size_mb", 128)
	l.v.SetDefault("recorder.rotation.max_records_per_file", 100000)
	l.v.SetDefault("recorder.rotation.max_duration_seconds", 300)
	l.v.SetDefault("recorder.rotation.strategy", "any")
	l.v.SetDefault("recorder.parquet.compression", "snappy")
	l.v.SetDefault("recorder.avro.codec", "snappy")

	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")

	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// applyTimelineDefaults fills per-timeline fields viper cannot default
// inside a list.
func applyTimelineDefaults(config *dto.ApplicationConfig) {
	for i := range config.Timelines {
		tc := &config.Timelines[i]
		if tc.Kind == "" {
			tc.Kind = dto.KindRaw
		}
		if tc.DuplicatePolicy == "" {
			tc.DuplicatePolicy = timeline.DuplicateReplace.String()
		}
	}
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if len(config.Timelines) == 0 {
		return errors.New("at least one timeline is required")
	}
	seen := make(map[string]bool, len(config.Timelines))
	for i := range config.Timelines {
		tc := &config.Timelines[i]
		if err := tc.Validate(); err != nil {
			return err
		}
		if seen[tc.Name] {
			return fmt.Errorf("duplicate timeline name: %s", tc.Name)
		}
		seen[tc.Name] = true
		if _, err := timeline.ParseDuplicatePolicy(tc.DuplicatePolicy); err != nil {
			return fmt.Errorf("timeline %s: %w", tc.Name, err)
		}
	}

	if err := validateKafka(&config.Kafka, config.Generator); err != nil {
		return err
	}

	if config.Generator.Enabled {
		if config.Generator.IntervalMS <= 0 {
			return errors.New("generator.interval_ms must be positive")
		}
		for _, name := range config.Generator.Timelines {
			if !seen[name] {
				return fmt.Errorf("generator references unknown timeline: %s", name)
			}
		}
		switch config.Generator.Target {
		case "local":
		case "kafka":
			if config.Generator.Topic == "" {
				return errors.New("generator.topic is required for kafka target")
			}
		default:
			return fmt.Errorf("unsupported generator target: %s", config.Generator.Target)
		}
	}

	if config.Recorder.Enabled {
		if err := validateRecorder(&config.Recorder, seen); err != nil {
			return err
		}
	}

	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}

func validateKafka(k *dto.KafkaConfig, gen dto.GeneratorConfig) error {
	needsKafka := k.Ingest.Enabled || k.Publish.Enabled || (gen.Enabled && gen.Target == "kafka")
	if !needsKafka {
		return nil
	}
	if len(k.BootstrapServers) == 0 {
		return errors.New("kafka.bootstrap_servers is required")
	}
	if k.Ingest.Enabled {
		if len(k.Ingest.Topics) == 0 {
			return errors.New("kafka.ingest.topics is required")
		}
		if k.Ingest.GroupID == "" {
			return errors.New("kafka.ingest.group_id is required")
		}
	}
	if k.Publish.Enabled {
		if k.Publish.Topic == "" {
			return errors.New("kafka.publish.topic is required")
		}
		for _, kind := range k.Publish.Kinds {
			if _, err := timeline.ParseEventKind(kind); err != nil {
				return fmt.Errorf("kafka.publish.kinds: %w", err)
			}
		}
	}
	switch k.SecurityProtocol {
	case "PLAINTEXT", "SASL_SSL", "SASL_PLAINTEXT":
	default:
		return fmt.Errorf("unsupported security protocol: %s", k.SecurityProtocol)
	}
	return nil
}

func validateRecorder(r *dto.RecorderConfig, timelines map[string]bool) error {
	if r.IntervalSeconds <= 0 {
		return errors.New("recorder.interval_seconds must be positive")
	}
	for _, name := range r.Timelines {
		if !timelines[name] {
			return fmt.Errorf("recorder references unknown timeline: %s", name)
		}
	}

	switch r.Storage.Backend {
	case "s3":
		if err := r.Storage.S3.Validate(); err != nil {
			return fmt.Errorf("recorder.storage: %w", err)
		}
	case "azure":
		if err := r.Storage.Azure.Validate(); err != nil {
			return fmt.Errorf("recorder.storage: %w", err)
		}
	case "gcs":
		if err := r.Storage.GCS.Validate(); err != nil {
			return fmt.Errorf("recorder.storage: %w", err)
		}
	case "file":
		if err := r.Storage.File.Validate(); err != nil {
			return fmt.Errorf("recorder.storage: %w", err)
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", r.Storage.Backend)
	}

	if r.Storage.Format != "parquet" && r.Storage.Format != "avro" {
		return fmt.Errorf("unsupported storage format: %s", r.Storage.Format)
	}
	if r.Rotation.Strategy != "any" && r.Rotation.Strategy != "all" {
		return fmt.Errorf("unsupported rotation strategy: %s", r.Rotation.Strategy)
	}
	return nil
}
