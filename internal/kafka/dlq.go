package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	"github.com/jittakal/kaftimeline/internal/errors"
	"github.com/jittakal/kaftimeline/pkg/consumer"
	"github.com/jittakal/kaftimeline/pkg/event"
)

var _ consumer.DLQPublisher = (*DLQPublisher)(nil)

// DLQEvent is the message body written to a dead letter topic.
type DLQEvent struct {
	OriginalEvent     json.RawMessage `json:"original_event"`
	OriginalTopic     string          `json:"original_topic"`
	OriginalPartition int32           `json:"original_partition"`
	OriginalOffset    int64           `json:"original_offset"`
	FailureReason     string          `json:"failure_reason"`
	FailureTimestamp  time.Time       `json:"failure_timestamp"`
	ProcessorID       string          `json:"processor_id"`
}

// DLQMetrics records dead letter publishing.
type DLQMetrics interface {
	IncDLQPublished(topic, status string)
}

// DLQPublisher publishes rejected samples to <topic><suffix>.
type DLQPublisher struct {
	producer    sarama.SyncProducer
	config      dto.DLQConfig
	logger      *zap.Logger
	metrics     DLQMetrics
	processorID string
	mu          sync.RWMutex
	closed      bool
}

// NewDLQPublisher creates a DLQ publisher. When the DLQ is disabled no
// producer is created and Publish is a no-op.
func NewDLQPublisher(cfg dto.KafkaConfig, logger *zap.Logger, metrics DLQMetrics, processorID string) (*DLQPublisher, error) {
	if !cfg.DLQ.Enabled {
		logger.Info("DLQ is disabled")
		return NewDLQPublisherWithProducer(nil, cfg.DLQ, logger, metrics, processorID), nil
	}

	saramaConfig, err := producerConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1
	if saramaConfig.Producer.Retry.Max < 1 {
		saramaConfig.Producer.Retry.Max = 1
	}

	producer, err := sarama.NewSyncProducer(cfg.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		zap.Strings("bootstrap_servers", cfg.BootstrapServers),
		zap.String("topic_suffix", cfg.DLQ.TopicSuffix),
	)
	return NewDLQPublisherWithProducer(producer, cfg.DLQ, logger, metrics, processorID), nil
}

// NewDLQPublisherWithProducer creates a DLQ publisher over an existing producer.
func NewDLQPublisherWithProducer(producer sarama.SyncProducer, cfg dto.DLQConfig, logger *zap.Logger, metrics DLQMetrics, processorID string) *DLQPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DLQPublisher{
		producer:    producer,
		config:      cfg,
		logger:      logger,
		metrics:     metrics,
		processorID: processorID,
	}
}

// Topic returns the dead letter topic for a source topic.
func (p *DLQPublisher) Topic(source string) string {
	return source + p.config.TopicSuffix
}

// Publish sends a rejected event with its failure reason to the DLQ.
func (p *DLQPublisher) Publish(ctx context.Context, cloudEvent *event.CloudEvent, metadata event.KafkaMetadata, reason string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrPublisherClosed
	}
	if !p.config.Enabled || p.producer == nil {
		p.logger.Debug("DLQ disabled, skipping publish", zap.String("reason", reason))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dlqTopic := p.Topic(metadata.Topic)

	eventData, err := json.Marshal(cloudEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	dlqData, err := json.Marshal(DLQEvent{
		OriginalEvent:     eventData,
		OriginalTopic:     metadata.Topic,
		OriginalPartition: metadata.Partition,
		OriginalOffset:    metadata.Offset,
		FailureReason:     reason,
		FailureTimestamp:  time.Now().UTC(),
		ProcessorID:       p.processorID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ event: %w", err)
	}

	var key sarama.Encoder
	if cloudEvent != nil {
		key = sarama.StringEncoder(cloudEvent.ID)
	}
	msg := &sarama.ProducerMessage{
		Topic: dlqTopic,
		Key:   key,
		Value: sarama.ByteEncoder(dlqData),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failure_reason"), Value: []byte(reason)},
			{Key: []byte("original_topic"), Value: []byte(metadata.Topic)},
			{Key: []byte("processor_id"), Value: []byte(p.processorID)},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.observe(dlqTopic, "error")
		p.logger.Error("failed to publish to DLQ",
			zap.Error(err),
			zap.String("dlq_topic", dlqTopic),
		)
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}
	p.observe(dlqTopic, "success")

	p.logger.Info("published event to DLQ",
		zap.String("dlq_topic", dlqTopic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("reason", reason),
	)
	return nil
}

func (p *DLQPublisher) observe(topic, status string) {
	if p.metrics != nil {
		p.metrics.IncDLQPublished(topic, status)
	}
}

// Close closes the DLQ publisher.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing DLQ producer", zap.Error(err))
			return err
		}
	}
	p.logger.Info("DLQ publisher closed")
	return nil
}
