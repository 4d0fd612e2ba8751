// Package generator produces synthetic samples for matrix, message and raw
// timelines, either straight into the local ingest path or onto Kafka.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/jaswdr/faker"
	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	"github.com/jittakal/kaftimeline/internal/kafka"
	"github.com/jittakal/kaftimeline/pkg/event"
	"github.com/jittakal/kaftimeline/pkg/timeline"
	"github.com/jittakal/kaftimeline/pkg/tracking"
)

// Target receives generated sample events.
type Target interface {
	Send(ctx context.Context, timeline string, e cloudevents.Event) error
}

// Ingester pushes a decoded sample onto its timeline.
type Ingester interface {
	Ingest(e *event.CloudEvent) (string, error)
}

// LocalTarget hands events to an in-process ingester.
type LocalTarget struct {
	ingester Ingester
}

// NewLocalTarget creates a target that ingests without a broker.
func NewLocalTarget(ingester Ingester) *LocalTarget {
	return &LocalTarget{ingester: ingester}
}

// Send round-trips e through its JSON form so it reaches the ingester
// exactly as a consumed event would.
func (t *LocalTarget) Send(ctx context.Context, name string, e cloudevents.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	var ce event.CloudEvent
	if err := json.Unmarshal(raw, &ce); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	_, err = t.ingester.Ingest(&ce)
	return err
}

// KafkaTarget produces events to a topic keyed by timeline name.
type KafkaTarget struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaTarget creates a target that produces to topic.
func NewKafkaTarget(producer *kafka.Producer, topic string) *KafkaTarget {
	return &KafkaTarget{producer: producer, topic: topic}
}

// Send produces e.
func (t *KafkaTarget) Send(ctx context.Context, name string, e cloudevents.Event) error {
	return t.producer.ProduceEvent(ctx, t.topic, name, e)
}

// Metrics records generation outcomes.
type Metrics interface {
	IncSamplesGenerated(timeline, status string)
}

// Generator emits one sample per configured timeline on every tick.
type Generator struct {
	source    string
	interval  time.Duration
	timelines []dto.TimelineConfig
	target    Target
	faker     faker.Faker
	logger    *zap.Logger
	metrics   Metrics
	start     time.Time
}

// NewGenerator creates a generator for timelines.
func NewGenerator(cfg dto.GeneratorConfig, timelines []dto.TimelineConfig, target Target, logger *zap.Logger, metrics Metrics) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	source := cfg.Source
	if source == "" {
		source = "kaftimeline/generator"
	}
	return &Generator{
		source:    source,
		interval:  cfg.Interval(),
		timelines: timelines,
		target:    target,
		faker:     faker.New(),
		logger:    logger,
		metrics:   metrics,
		start:     time.Now(),
	}
}

// Run generates samples until ctx is done.
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.logger.Info("generator started",
		zap.Duration("interval", g.interval),
		zap.Int("timelines", len(g.timelines)),
	)

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("stopping sample generation")
			return
		case now := <-ticker.C:
			g.Tick(ctx, now)
		}
	}
}

// Tick sends one sample per timeline stamped at now.
func (g *Generator) Tick(ctx context.Context, now time.Time) {
	for _, tc := range g.timelines {
		e, err := g.Generate(tc, now)
		status := "success"
		if err == nil {
			err = g.target.Send(ctx, tc.Name, e)
		}
		if err != nil {
			status = "error"
			g.logger.Warn("failed to send generated sample",
				zap.String("timeline", tc.Name),
				zap.Error(err),
			)
		}
		if g.metrics != nil {
			g.metrics.IncSamplesGenerated(tc.Name, status)
		}
	}
}

// Generate builds a sample event for tc stamped at now.
func (g *Generator) Generate(tc dto.TimelineConfig, now time.Time) (cloudevents.Event, error) {
	ts := float64(timeline.FromTime(now))
	payload := event.SamplePayload{Timestamp: &ts}

	switch tc.Kind {
	case dto.KindMatrix:
		m := g.pose(now)
		payload.Matrix = m[:]
	case dto.KindMessage:
		payload.Level = g.level().String()
		payload.Text = g.text()
	default:
		payload.Data = []byte(g.faker.RandomStringWithLength(32))
	}

	e := cloudevents.NewEvent()
	e.SetSpecVersion(cloudevents.VersionV1)
	e.SetID(uuid.New().String())
	e.SetType(event.TypeSample)
	e.SetSource(g.source)
	e.SetSubject(tc.Name)
	e.SetTime(now)
	if err := e.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return e, fmt.Errorf("failed to set event data: %w", err)
	}
	return e, nil
}

// pose walks a circle of radius 1 with a small vertical jitter.
func (g *Generator) pose(now time.Time) tracking.Matrix {
	angle := now.Sub(g.start).Seconds()
	jitter := g.faker.Float64(3, -1, 1) / 100
	return tracking.Translation(math.Cos(angle), math.Sin(angle), jitter)
}

// level picks info 80%, warning 15% and error 5% of the time.
func (g *Generator) level() tracking.Level {
	switch n := g.faker.IntBetween(1, 100); {
	case n <= 80:
		return tracking.LevelInfo
	case n <= 95:
		return tracking.LevelWarning
	default:
		return tracking.LevelError
	}
}

func (g *Generator) text() string {
	s := g.faker.Lorem().Sentence(6)
	if len(s) > tracking.MessageSize {
		s = s[:tracking.MessageSize]
	}
	return s
}
