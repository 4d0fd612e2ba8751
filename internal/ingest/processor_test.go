package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	apperrors "github.com/jittakal/kaftimeline/internal/errors"
	"github.com/jittakal/kaftimeline/internal/registry"
	"github.com/jittakal/kaftimeline/internal/validator"
	"github.com/jittakal/kaftimeline/pkg/event"
	"github.com/jittakal/kaftimeline/pkg/timeline"
	"github.com/jittakal/kaftimeline/pkg/tracking"
)

type mockDLQ struct {
	mu      sync.Mutex
	reasons []string
	err     error
}

func (m *mockDLQ) Publish(ctx context.Context, e *event.CloudEvent, md event.KafkaMetadata, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = append(m.reasons, reason)
	return m.err
}

func (m *mockDLQ) Close() error { return nil }

type mockMetrics struct {
	mu       sync.Mutex
	statuses map[string]int
}

func (m *mockMetrics) IncSamplesIngested(timeline, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses == nil {
		m.statuses = make(map[string]int)
	}
	m.statuses[timeline+"/"+status]++
}

func (m *mockMetrics) ObserveIngestDuration(timeline string, duration float64) {}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(nil, nil)
	for _, cfg := range []dto.TimelineConfig{
		{Name: "video", Kind: dto.KindRaw, DuplicatePolicy: "replace"},
		{Name: "pose", Kind: dto.KindMatrix, DuplicatePolicy: "replace"},
		{Name: "log", Kind: dto.KindMessage, DuplicatePolicy: "reject"},
	} {
		if _, err := reg.GetOrCreate(cfg); err != nil {
			t.Fatalf("GetOrCreate(%s) error = %v", cfg.Name, err)
		}
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func sampleEvent(subject, data string) *event.CloudEvent {
	return &event.CloudEvent{
		ID:          "id-" + subject,
		Source:      "test",
		SpecVersion: "1.0",
		Type:        event.TypeSample,
		Subject:     &subject,
		Data:        []byte(data),
	}
}

func consumed(e *event.CloudEvent, commits *int) *event.ConsumedEvent {
	return &event.ConsumedEvent{
		Event:    e,
		Metadata: event.KafkaMetadata{Topic: "samples", Partition: 0, Offset: 7},
		CommitFunc: func() error {
			*commits++
			return nil
		},
	}
}

func TestProcessor_IngestKinds(t *testing.T) {
	reg := newTestRegistry(t)
	p := NewProcessor(reg, validator.NewSampleValidator(), nil, nil, nil)

	if _, err := p.Ingest(sampleEvent("video", `{"timestamp": 10, "data": "AQID"}`)); err != nil {
		t.Fatalf("raw Ingest() error = %v", err)
	}
	video, _, _ := reg.Get("video")
	buf, err := video.GetObject(10)
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{1, 2, 3}) {
		t.Errorf("raw bytes = %v, want [1 2 3]", buf.Bytes())
	}

	if _, err := p.Ingest(sampleEvent("pose", `{"timestamp": 20, "matrix": [1,0,0,5, 0,1,0,6, 0,0,1,7, 0,0,0,1]}`)); err != nil {
		t.Fatalf("matrix Ingest() error = %v", err)
	}
	pose, _, _ := reg.Get("pose")
	g, err := timeline.NewGeneric[tracking.Matrix](pose)
	if err != nil {
		t.Fatal(err)
	}
	m, err := g.GetObject(20)
	if err != nil {
		t.Fatalf("Generic.GetObject() error = %v", err)
	}
	if m != tracking.Translation(5, 6, 7) {
		t.Errorf("matrix = %v, want translation(5,6,7)", m)
	}

	if _, err := p.Ingest(sampleEvent("log", `{"timestamp": 30, "level": "warning", "text": "battery low"}`)); err != nil {
		t.Fatalf("message Ingest() error = %v", err)
	}
	logTl, _, _ := reg.Get("log")
	mg, err := timeline.NewGeneric[tracking.Message](logTl)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := mg.GetObject(30)
	if err != nil {
		t.Fatalf("Generic.GetObject() error = %v", err)
	}
	if msg.Level != tracking.LevelWarning || msg.String() != "battery low" {
		t.Errorf("message = %v %q", msg.Level, msg.String())
	}
}

func TestProcessor_EventTimeFallback(t *testing.T) {
	reg := newTestRegistry(t)
	p := NewProcessor(reg, validator.NewSampleValidator(), nil, nil, nil)

	when := time.UnixMilli(1_700_000_000_123)
	e := sampleEvent("video", `{"data": "AQ=="}`)
	e.Time = &when
	if _, err := p.Ingest(e); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	video, _, _ := reg.Get("video")
	if !video.IsObjectPresent(timeline.FromTime(when)) {
		t.Error("sample not stored at the event time")
	}

	if _, err := p.Ingest(sampleEvent("video", `{"data": "AQ=="}`)); !errors.Is(err, apperrors.ErrInvalidPayload) {
		t.Errorf("Ingest() without any time = %v, want ErrInvalidPayload", err)
	}
}

func TestProcessor_IngestErrors(t *testing.T) {
	tests := []struct {
		name       string
		event      *event.CloudEvent
		wantStatus string
	}{
		{"missing subject", &event.CloudEvent{ID: "1", Source: "s", SpecVersion: "1.0", Type: event.TypeSample, Data: []byte("{}")}, StatusInvalid},
		{"unknown timeline", sampleEvent("audio", `{"timestamp": 1, "data": "AQ=="}`), StatusUnknownTimeline},
		{"malformed json", sampleEvent("video", `{"timestamp": `), StatusInvalidPayload},
		{"empty raw data", sampleEvent("video", `{"timestamp": 1}`), StatusInvalidPayload},
		{"short matrix", sampleEvent("pose", `{"timestamp": 1, "matrix": [1, 2, 3]}`), StatusInvalidPayload},
		{"bad level", sampleEvent("log", `{"timestamp": 1, "level": "loud", "text": "x"}`), StatusInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(newTestRegistry(t), validator.NewSampleValidator(), nil, nil, nil)
			_, err := p.Ingest(tt.event)
			if err == nil {
				t.Fatal("Ingest() error = nil, want error")
			}
			if got := Status(err); got != tt.wantStatus {
				t.Errorf("Status(%v) = %q, want %q", err, got, tt.wantStatus)
			}
		})
	}
}

func TestProcessor_PushFailureNamesTimeline(t *testing.T) {
	p := NewProcessor(newTestRegistry(t), validator.NewSampleValidator(), nil, nil, nil)
	_, err := p.Ingest(sampleEvent("pose", `{"timestamp": 7, "matrix": [1, 2, 3]}`))

	var perr *apperrors.PushError
	if !errors.As(err, &perr) {
		t.Fatalf("Ingest() error = %v, want *PushError", err)
	}
	if perr.Timeline != "pose" || perr.Kind != dto.KindMatrix || perr.Timestamp != 7 {
		t.Errorf("PushError = %+v", perr)
	}
	if !errors.Is(err, apperrors.ErrInvalidPayload) {
		t.Errorf("Ingest() error = %v, want ErrInvalidPayload", err)
	}
}

func TestProcessor_HandleRoutesFailuresToDLQ(t *testing.T) {
	reg := newTestRegistry(t)
	dlq := &mockDLQ{}
	metrics := &mockMetrics{}
	p := NewProcessor(reg, validator.NewSampleValidator(), dlq, nil, metrics)

	commits := 0
	ctx := context.Background()

	if err := p.Handle(ctx, consumed(sampleEvent("video", `{"timestamp": 1, "data": "AQ=="}`), &commits)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := p.Handle(ctx, consumed(sampleEvent("audio", `{"timestamp": 1, "data": "AQ=="}`), &commits)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if commits != 2 {
		t.Errorf("commits = %d, want 2", commits)
	}
	if len(dlq.reasons) != 1 {
		t.Fatalf("dlq publishes = %d, want 1", len(dlq.reasons))
	}
	if got := dlq.reasons[0]; len(got) < len(StatusUnknownTimeline) || got[:len(StatusUnknownTimeline)] != StatusUnknownTimeline {
		t.Errorf("dlq reason = %q, want prefix %q", got, StatusUnknownTimeline)
	}
	if metrics.statuses["video/success"] != 1 || metrics.statuses["audio/unknown_timeline"] != 1 {
		t.Errorf("metrics = %v", metrics.statuses)
	}
}

func TestProcessor_HandleDuplicateSkipsDLQ(t *testing.T) {
	reg := newTestRegistry(t)
	dlq := &mockDLQ{}
	p := NewProcessor(reg, validator.NewSampleValidator(), dlq, nil, nil)

	commits := 0
	e := sampleEvent("log", `{"timestamp": 5, "text": "boot"}`)
	for i := 0; i < 2; i++ {
		if err := p.Handle(context.Background(), consumed(e, &commits)); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
	}
	if commits != 2 {
		t.Errorf("commits = %d, want 2", commits)
	}
	if len(dlq.reasons) != 0 {
		t.Errorf("duplicates should not reach the DLQ, got %v", dlq.reasons)
	}
}

func TestProcessor_HandleClosedTimeline(t *testing.T) {
	reg := newTestRegistry(t)
	video, _, _ := reg.Get("video")
	if err := video.Close(); err != nil {
		t.Fatal(err)
	}
	p := NewProcessor(reg, validator.NewSampleValidator(), &mockDLQ{}, nil, nil)

	commits := 0
	err := p.Handle(context.Background(), consumed(sampleEvent("video", `{"timestamp": 1, "data": "AQ=="}`), &commits))
	if !errors.Is(err, timeline.ErrClosed) {
		t.Fatalf("Handle() error = %v, want ErrClosed", err)
	}
	if commits != 0 {
		t.Errorf("offset committed for a closed timeline")
	}
}

func TestProcessor_HandleDLQFailureStillCommits(t *testing.T) {
	reg := newTestRegistry(t)
	p := NewProcessor(reg, validator.NewSampleValidator(), &mockDLQ{err: fmt.Errorf("broker down")}, nil, nil)

	commits := 0
	if err := p.Handle(context.Background(), consumed(sampleEvent("nope", `{"timestamp": 1}`), &commits)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if commits != 1 {
		t.Errorf("commits = %d, want 1", commits)
	}
}

func TestProcessor_Run(t *testing.T) {
	reg := newTestRegistry(t)
	p := NewProcessor(reg, validator.NewSampleValidator(), nil, nil, nil)

	events := make(chan *event.ConsumedEvent, 3)
	errs := make(chan error, 1)
	commits := 0
	for i := 1; i <= 3; i++ {
		events <- consumed(sampleEvent("video", fmt.Sprintf(`{"timestamp": %d, "data": "AQ=="}`, i)), &commits)
	}
	errs <- errors.New("transient")
	close(events)
	close(errs)

	if err := p.Run(context.Background(), events, errs); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	video, _, _ := reg.Get("video")
	if video.Len() != 3 {
		t.Errorf("Len() = %d, want 3", video.Len())
	}
	if commits != 3 {
		t.Errorf("commits = %d, want 3", commits)
	}
}
