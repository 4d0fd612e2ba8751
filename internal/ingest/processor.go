// Package ingest pushes consumed sample events onto the named timelines.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	apperrors "github.com/jittakal/kaftimeline/internal/errors"
	"github.com/jittakal/kaftimeline/internal/registry"
	"github.com/jittakal/kaftimeline/pkg/consumer"
	"github.com/jittakal/kaftimeline/pkg/event"
	"github.com/jittakal/kaftimeline/pkg/timeline"
	"github.com/jittakal/kaftimeline/pkg/tracking"
)

// Outcome labels reported to Metrics.
const (
	StatusSuccess         = "success"
	StatusInvalid         = "invalid"
	StatusUnknownTimeline = "unknown_timeline"
	StatusInvalidPayload  = "invalid_payload"
	StatusDuplicate       = "duplicate"
	StatusError           = "error"
)

// Metrics records ingest outcomes.
type Metrics interface {
	IncSamplesIngested(timeline, status string)
	ObserveIngestDuration(timeline string, duration float64)
}

// Processor validates sample events, decodes their payload according to
// the target timeline's kind and pushes the result.
type Processor struct {
	registry  *registry.Registry
	validator event.Validator
	dlq       consumer.DLQPublisher
	logger    *zap.Logger
	metrics   Metrics
}

// NewProcessor creates a processor. dlq and metrics may be nil.
func NewProcessor(reg *registry.Registry, validator event.Validator, dlq consumer.DLQPublisher, logger *zap.Logger, metrics Metrics) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		registry:  reg,
		validator: validator,
		dlq:       dlq,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run handles consumed events until ctx is done or the event channel is
// closed.
func (p *Processor) Run(ctx context.Context, events <-chan *event.ConsumedEvent, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("context cancelled, stopping ingest")
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.logger.Error("consumer error", zap.Error(err))
		case consumed, ok := <-events:
			if !ok {
				p.logger.Info("event channel closed")
				return nil
			}
			if err := p.Handle(ctx, consumed); err != nil {
				return err
			}
		}
	}
}

// Handle ingests one consumed event. Rejected events are sent to the DLQ
// and their offset is committed. Only failures that make further
// consumption pointless, such as a closed timeline, are returned; their
// offset is left uncommitted.
func (p *Processor) Handle(ctx context.Context, consumed *event.ConsumedEvent) error {
	name, err := p.Ingest(consumed.Event)
	md := consumed.Metadata

	if err != nil {
		if apperrors.StopsIngest(err) {
			return err
		}

		reason := Status(err)
		logger := p.logger.With(
			zap.String("topic", md.Topic),
			zap.Int32("partition", md.Partition),
			zap.Int64("offset", md.Offset),
			zap.String("timeline", name),
		)
		if reason == StatusDuplicate {
			logger.Debug("duplicate sample rejected", zap.Error(err))
		} else {
			logger.Warn("sample rejected", zap.Error(err))
			if p.dlq != nil {
				if dlqErr := p.dlq.Publish(ctx, consumed.Event, md, reason+": "+err.Error()); dlqErr != nil {
					logger.Error("failed to publish rejected sample to DLQ", zap.Error(dlqErr))
				}
			}
		}
	}

	if consumed.CommitFunc != nil {
		if err := consumed.CommitFunc(); err != nil {
			commitErr := &apperrors.CommitError{
				Timeline:    name,
				PartitionID: event.PartitionID{Topic: md.Topic, Partition: md.Partition},
				Offset:      md.Offset,
				Err:         err,
			}
			p.logger.Error("failed to commit offset", zap.Error(commitErr))
		}
	}
	return nil
}

// Ingest validates e, decodes its payload and pushes it onto the timeline
// named by its subject. It returns that name, or "" when e has none.
func (p *Processor) Ingest(e *event.CloudEvent) (string, error) {
	start := time.Now()
	name := ""
	if e != nil && e.Subject != nil {
		name = *e.Subject
	}

	err := p.ingest(e, name)
	if p.metrics != nil {
		p.metrics.IncSamplesIngested(name, Status(err))
		if err == nil {
			p.metrics.ObserveIngestDuration(name, time.Since(start).Seconds())
		}
	}
	return name, err
}

func (p *Processor) ingest(e *event.CloudEvent, name string) error {
	if err := p.validator.Validate(e); err != nil {
		return err
	}

	tl, cfg, err := p.registry.Get(name)
	if err != nil {
		return err
	}

	var payload event.SamplePayload
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidPayload, err)
	}

	ts, err := sampleTimestamp(e, &payload)
	if err != nil {
		return err
	}

	if err := push(tl, cfg.Kind, ts, &payload); err != nil {
		return &apperrors.PushError{Timeline: name, Kind: cfg.Kind, Timestamp: ts, Err: err}
	}
	return nil
}

// sampleTimestamp returns the payload timestamp, falling back to the event time.
func sampleTimestamp(e *event.CloudEvent, payload *event.SamplePayload) (timeline.Timestamp, error) {
	if payload.Timestamp != nil {
		return timeline.Timestamp(*payload.Timestamp), nil
	}
	if e.Time != nil {
		return timeline.FromTime(*e.Time), nil
	}
	return 0, fmt.Errorf("%w: no timestamp and no event time", apperrors.ErrInvalidPayload)
}

// push stores payload on tl according to the timeline kind.
func push(tl *timeline.TimeLine, kind string, ts timeline.Timestamp, payload *event.SamplePayload) error {
	switch kind {
	case dto.KindMatrix:
		if len(payload.Matrix) != len(tracking.Matrix{}) {
			return fmt.Errorf("%w: matrix needs %d values, got %d",
				apperrors.ErrInvalidPayload, len(tracking.Matrix{}), len(payload.Matrix))
		}
		var m tracking.Matrix
		copy(m[:], payload.Matrix)
		g, err := timeline.NewGeneric[tracking.Matrix](tl)
		if err != nil {
			return err
		}
		return g.Push(ts, m)

	case dto.KindMessage:
		level, err := tracking.ParseLevel(payload.Level)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrInvalidPayload, err)
		}
		msg, err := tracking.NewMessage(level, payload.Text)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrInvalidPayload, err)
		}
		g, err := timeline.NewGeneric[tracking.Message](tl)
		if err != nil {
			return err
		}
		return g.Push(ts, msg)

	default:
		if len(payload.Data) == 0 {
			return fmt.Errorf("%w: empty data", apperrors.ErrInvalidPayload)
		}
		return tl.PushObject(ts, payload.Data)
	}
}

// Status maps an ingest error to its metrics label.
func Status(err error) string {
	var verr *apperrors.ValidationError
	switch {
	case err == nil:
		return StatusSuccess
	case errors.As(err, &verr):
		return StatusInvalid
	case errors.Is(err, apperrors.ErrUnknownTimeline):
		return StatusUnknownTimeline
	case errors.Is(err, timeline.ErrDuplicate):
		return StatusDuplicate
	case errors.Is(err, apperrors.ErrInvalidPayload),
		errors.Is(err, timeline.ErrInvalidTimestamp),
		errors.Is(err, timeline.ErrAllocation):
		return StatusInvalidPayload
	default:
		return StatusError
	}
}
