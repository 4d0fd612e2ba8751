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

var _ consumer.Consumer = (*SaramaConsumer)(nil)

// ConsumerMetrics records consumer activity.
type ConsumerMetrics interface {
	IncMessagesConsumed(topic string, partition int32)
}

// SaramaConsumer implements consumer.Consumer with a Sarama consumer group.
// Each message is decoded into a CloudEvent and handed out with a commit
// function that marks its offset.
type SaramaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	groupID       string
	logger        *zap.Logger
	metrics       ConsumerMetrics
	topics        []string
	ready         chan struct{}
	mu            sync.RWMutex
	closed        bool
}

// NewSaramaConsumer creates a consumer group for the ingest settings in cfg.
func NewSaramaConsumer(cfg dto.KafkaConfig, logger *zap.Logger, metrics ConsumerMetrics) (*SaramaConsumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(cfg.Ingest.AutoOffsetReset)
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Return.Errors = true
	if cfg.Ingest.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(cfg.Ingest.SessionTimeoutMS) * time.Millisecond
	}
	if cfg.Ingest.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(cfg.Ingest.HeartbeatIntervalMS) * time.Millisecond
	}

	if err := configureSecurity(saramaConfig, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	group, err := sarama.NewConsumerGroup(cfg.BootstrapServers, cfg.Ingest.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka consumer created",
		zap.String("group_id", cfg.Ingest.GroupID),
		zap.Strings("bootstrap_servers", cfg.BootstrapServers),
		zap.Int("session_timeout_ms", cfg.Ingest.SessionTimeoutMS),
	)

	return newSaramaConsumer(group, cfg.Ingest.GroupID, logger, metrics), nil
}

func newSaramaConsumer(group sarama.ConsumerGroup, groupID string, logger *zap.Logger, metrics ConsumerMetrics) *SaramaConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaramaConsumer{
		consumerGroup: group,
		groupID:       groupID,
		logger:        logger,
		metrics:       metrics,
		ready:         make(chan struct{}),
	}
}

// Subscribe sets the topics consumed by the next Consume call.
func (c *SaramaConsumer) Subscribe(ctx context.Context, topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrConsumerClosed
	}

	c.topics = topics
	c.logger.Info("subscribed to topics", zap.Strings("topics", topics))
	return nil
}

// Consume joins the group and returns channels of consumed events and
// errors. It returns once the first session has been set up or ctx is done.
// Both channels are closed when consumption stops.
func (c *SaramaConsumer) Consume(ctx context.Context) (<-chan *event.ConsumedEvent, <-chan error, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, errors.ErrConsumerClosed
	}
	topics := c.topics
	c.mu.RUnlock()

	eventChan := make(chan *event.ConsumedEvent, 100)
	errorChan := make(chan error, 10)

	handler := &consumerGroupHandler{
		consumer:  c,
		eventChan: eventChan,
		errorChan: errorChan,
		ready:     c.ready,
	}

	go func() {
		defer close(eventChan)
		defer close(errorChan)

		for {
			// Consume returns on every rebalance and must be called again.
			if err := c.consumerGroup.Consume(ctx, topics, handler); err != nil {
				c.logger.Error("consumer group error", zap.Error(err))
				select {
				case errorChan <- err:
				default:
				}
				return
			}
			if ctx.Err() != nil {
				c.logger.Info("consumer context cancelled")
				return
			}
		}
	}()

	go func() {
		for err := range c.consumerGroup.Errors() {
			c.logger.Warn("consumer group reported error", zap.Error(err))
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("kafka consumer started and ready")
	case <-ctx.Done():
	}
	return eventChan, errorChan, nil
}

// Close leaves the consumer group.
func (c *SaramaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info("closing kafka consumer")

	if err := c.consumerGroup.Close(); err != nil {
		c.logger.Error("error closing consumer group", zap.Error(err))
		return err
	}

	c.logger.Info("kafka consumer closed")
	return nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	consumer  *SaramaConsumer
	eventChan chan<- *event.ConsumedEvent
	errorChan chan<- error
	ready     chan struct{}
	readyOnce sync.Once
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.consumer.logger.Info("consumer group session setup",
		zap.String("member_id", session.MemberID()),
		zap.Int32("generation_id", session.GenerationID()),
		zap.Any("claims", session.Claims()),
	)
	h.readyOnce.Do(func() {
		close(h.ready)
	})
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.consumer.logger.Info("consumer group session cleanup",
		zap.String("member_id", session.MemberID()),
	)
	return nil
}

// ConsumeClaim processes messages from a partition.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	logger := h.consumer.logger.With(
		zap.String("topic", claim.Topic()),
		zap.Int32("partition", claim.Partition()),
	)
	logger.Info("started consuming partition", zap.Int64("initial_offset", claim.InitialOffset()))

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			cloudEvent, err := parseCloudEvent(message.Value)
			if err != nil {
				logger.Error("failed to parse cloud event",
					zap.Error(err),
					zap.Int64("offset", message.Offset),
				)
				// A message that is not a CloudEvent can never be ingested.
				session.MarkMessage(message, "")
				select {
				case h.errorChan <- fmt.Errorf("offset %d: %w", message.Offset, err):
				default:
				}
				continue
			}

			consumed := &event.ConsumedEvent{
				Event: cloudEvent,
				Metadata: event.KafkaMetadata{
					Topic:     message.Topic,
					Partition: message.Partition,
					Offset:    message.Offset,
					Key:       message.Key,
					Timestamp: message.Timestamp,
					Headers:   extractHeaders(message.Headers),
				},
				CommitFunc: func() error {
					session.MarkMessage(message, "")
					return nil
				},
			}

			select {
			case h.eventChan <- consumed:
				if h.consumer.metrics != nil {
					h.consumer.metrics.IncMessagesConsumed(message.Topic, message.Partition)
				}
			case <-session.Context().Done():
				return nil
			}

		case <-session.Context().Done():
			logger.Info("session context done, stopping partition consumption")
			return nil
		}
	}
}

// parseCloudEvent decodes a structured-mode CloudEvent. Spec version 0.1
// is normalized to 1.0.
func parseCloudEvent(value []byte) (*event.CloudEvent, error) {
	var cloudEvent event.CloudEvent
	if err := json.Unmarshal(value, &cloudEvent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cloud event: %w", err)
	}
	if cloudEvent.SpecVersion == "0.1" {
		cloudEvent.SpecVersion = "1.0"
	}
	return &cloudEvent, nil
}

func extractHeaders(headers []*sarama.RecordHeader) map[string]string {
	result := make(map[string]string, len(headers))
	for _, header := range headers {
		result[string(header.Key)] = string(header.Value)
	}
	return result
}
