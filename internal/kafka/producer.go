package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	"github.com/jittakal/kaftimeline/internal/errors"
)

// Producer sends structured-mode CloudEvents to Kafka.
type Producer struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

// NewProducer creates a synchronous producer using the publish settings in cfg.
func NewProducer(cfg dto.KafkaConfig, logger *zap.Logger) (*Producer, error) {
	saramaConfig, err := producerConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(cfg.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Info("kafka producer created",
		zap.Strings("brokers", cfg.BootstrapServers),
		zap.String("security_protocol", cfg.SecurityProtocol),
	)

	return NewProducerWithClient(producer, logger), nil
}

// NewProducerWithClient wraps an existing sarama.SyncProducer.
func NewProducerWithClient(producer sarama.SyncProducer, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{producer: producer, logger: logger}
}

// ProduceEvent sends e to topic. An empty key falls back to the event ID.
func (p *Producer) ProduceEvent(ctx context.Context, topic, key string, e cloudevents.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.producer == nil {
		return errors.ErrPublisherClosed
	}

	eventBytes, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal CloudEvent: %w", err)
	}
	if key == "" {
		key = e.ID()
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(eventBytes),
		Headers: []sarama.RecordHeader{
			{Key: []byte("ce_specversion"), Value: []byte(e.SpecVersion())},
			{Key: []byte("ce_type"), Value: []byte(e.Type())},
			{Key: []byte("ce_source"), Value: []byte(e.Source())},
			{Key: []byte("ce_id"), Value: []byte(e.ID())},
			{Key: []byte("content-type"), Value: []byte(cloudevents.ApplicationCloudEventsJSON)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	p.logger.Debug("event produced",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("event_id", e.ID()),
		zap.String("event_type", e.Type()),
	)
	return nil
}

// Close closes the underlying producer.
func (p *Producer) Close() error {
	if p.producer == nil {
		return nil
	}
	err := p.producer.Close()
	p.producer = nil
	return err
}
