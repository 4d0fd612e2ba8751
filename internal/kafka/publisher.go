package kafka

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	"github.com/jittakal/kaftimeline/pkg/event"
	"github.com/jittakal/kaftimeline/pkg/notify"
	"github.com/jittakal/kaftimeline/pkg/timeline"
)

// PublisherSubscriptionID identifies the publisher's dispatcher subscription.
const PublisherSubscriptionID = "kafka-publisher"

// PublisherMetrics records notification publishing.
type PublisherMetrics interface {
	IncNotificationsPublished(topic, kind, status string)
	ObservePublishDuration(topic string, duration float64)
}

// Publisher forwards timeline events to a Kafka topic as CloudEvents. It
// runs as a DropNew notify subscriber, so a slow or unreachable broker
// costs dropped notifications rather than blocked pushes.
type Publisher struct {
	producer *Producer
	topic    string
	source   string
	kinds    []timeline.EventKind
	logger   *zap.Logger
	metrics  PublisherMetrics
}

// NewPublisher creates a publisher that produces through producer.
func NewPublisher(producer *Producer, cfg dto.PublishConfig, logger *zap.Logger, metrics PublisherMetrics) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kinds := make([]timeline.EventKind, 0, len(cfg.Kinds))
	for _, s := range cfg.Kinds {
		k, err := timeline.ParseEventKind(s)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return &Publisher{
		producer: producer,
		topic:    cfg.Topic,
		source:   cfg.Source,
		kinds:    kinds,
		logger:   logger.With(zap.String("topic", cfg.Topic)),
		metrics:  metrics,
	}, nil
}

// Kinds returns the event kinds the publisher was configured for. Empty
// means every kind.
func (p *Publisher) Kinds() []timeline.EventKind {
	return p.kinds
}

// Subscribe attaches the publisher to d with a queue of queueSize events.
// Events arriving while the queue is full are dropped and show up in the
// dispatcher's Stats.
func (p *Publisher) Subscribe(d *notify.Dispatcher, queueSize int) (string, error) {
	opts := []notify.SubscribeOption{
		notify.WithID(PublisherSubscriptionID),
		notify.WithQueueSize(queueSize),
		notify.WithPolicy(notify.DropNew),
	}
	if len(p.kinds) > 0 {
		opts = append(opts, notify.WithKinds(p.kinds...))
	}
	return d.Subscribe(p.Handle, opts...)
}

// Handle publishes e and logs failures.
func (p *Publisher) Handle(e timeline.Event) {
	if err := p.Publish(context.Background(), e); err != nil {
		p.logger.Error("failed to publish timeline notification",
			zap.Error(err),
			zap.String("timeline", e.Timeline),
			zap.String("kind", e.Kind.String()),
			zap.Float64("timestamp", float64(e.Timestamp)),
		)
	}
}

// Publish produces one notification keyed by timeline name, so events of a
// timeline stay ordered within their partition.
func (p *Publisher) Publish(ctx context.Context, e timeline.Event) error {
	ce, err := NotificationEvent(p.source, e)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.producer.ProduceEvent(ctx, p.topic, e.Timeline, ce)
	if p.metrics != nil {
		p.metrics.ObservePublishDuration(p.topic, time.Since(start).Seconds())
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.IncNotificationsPublished(p.topic, e.Kind.String(), status)
	}
	return err
}

// NotificationEvent converts a timeline event into a CloudEvent whose
// subject is the timeline name and whose data is an event.Notification.
func NotificationEvent(source string, e timeline.Event) (cloudevents.Event, error) {
	var ceType string
	switch e.Kind {
	case timeline.ObjectPushed:
		ceType = event.TypeObjectPushed
	case timeline.ObjectRemoved:
		ceType = event.TypeObjectRemoved
	case timeline.Cleared:
		ceType = event.TypeCleared
	default:
		return cloudevents.Event{}, fmt.Errorf("unknown event kind: %d", e.Kind)
	}

	ce := cloudevents.NewEvent()
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetID(uuid.NewString())
	ce.SetType(ceType)
	ce.SetSource(source)
	ce.SetSubject(e.Timeline)
	ce.SetTime(time.Now())

	data := event.Notification{
		Timeline:  e.Timeline,
		Kind:      e.Kind.String(),
		Timestamp: float64(e.Timestamp),
		Size:      e.Size,
		Evicted:   e.Evicted,
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return cloudevents.Event{}, fmt.Errorf("failed to set notification data: %w", err)
	}
	return ce, nil
}
