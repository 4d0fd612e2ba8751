package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	apperrors "github.com/jittakal/kaftimeline/internal/errors"
	"github.com/jittakal/kaftimeline/internal/registry"
	"github.com/jittakal/kaftimeline/internal/storage"
	"github.com/jittakal/kaftimeline/pkg/event"
	"github.com/jittakal/kaftimeline/pkg/notify"
	"github.com/jittakal/kaftimeline/pkg/timeline"
)

type write struct {
	path    string
	records []event.Record
}

type mockWriter struct {
	mu     sync.Mutex
	writes []write
	err    error
}

func (m *mockWriter) Write(ctx context.Context, records []event.Record, path string, format event.FileFormat) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.writes = append(m.writes, write{path: path, records: append([]event.Record(nil), records...)})
	return int64(len(records)), nil
}

func (m *mockWriter) Close() error { return nil }

type mockMetrics struct {
	recorded map[string]int
	failed   int
}

func (m *mockMetrics) AddRecordsRecorded(timeline string, n int) {
	if m.recorded == nil {
		m.recorded = make(map[string]int)
	}
	m.recorded[timeline] += n
}

func (m *mockMetrics) IncFilesWritten(timeline, format, status string) {
	if status == "error" {
		m.failed++
	}
}

func setup(t *testing.T, rotation dto.FileRotationConfig, writer *mockWriter, metrics *mockMetrics) (*Recorder, *timeline.TimeLine) {
	t.Helper()
	var r *Recorder
	reg := registry.New(timeline.SinkFunc(func(e timeline.Event) { r.Observe(e) }), nil)
	t.Cleanup(func() { _ = reg.Close() })
	r = New(Config{Interval: time.Second, Format: event.FormatParquet}, reg, writer,
		storage.NewRouter("s3", "bucket", "archive"), storage.NewPolicy(rotation), nil, metrics)
	tl, err := reg.GetOrCreate(dto.TimelineConfig{Name: "video", Kind: dto.KindRaw, DuplicatePolicy: "replace"})
	if err != nil {
		t.Fatal(err)
	}
	return r, tl
}

// day is 2026-03-01T00:00:00Z in milliseconds.
const day = timeline.Timestamp(1772323200000)

func TestRecorder_PollRotatesOnRecordCount(t *testing.T) {
	writer := &mockWriter{}
	metrics := &mockMetrics{}
	r, tl := setup(t, dto.FileRotationConfig{MaxRecordsPerFile: 3}, writer, metrics)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := tl.PushObject(day+timeline.Timestamp(i), []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	r.Poll(ctx)
	if len(writer.writes) != 0 {
		t.Fatalf("wrote %d batches before the threshold", len(writer.writes))
	}
	if r.Pending("video") != 2 {
		t.Errorf("Pending() = %d, want 2", r.Pending("video"))
	}

	if err := tl.PushObject(day+2, []byte{2}); err != nil {
		t.Fatal(err)
	}
	r.Poll(ctx)
	if len(writer.writes) != 1 {
		t.Fatalf("wrote %d batches, want 1", len(writer.writes))
	}

	w := writer.writes[0]
	if w.path != "s3://bucket/archive/video/dt=2026-03-01/" {
		t.Errorf("path = %q", w.path)
	}
	if len(w.records) != 3 {
		t.Fatalf("batch has %d records, want 3", len(w.records))
	}
	for i, rec := range w.records {
		if rec.Timestamp != float64(day)+float64(i) || rec.Data[0] != byte(i) || rec.Kind != dto.KindRaw {
			t.Errorf("record %d = %+v", i, rec)
		}
	}
	if metrics.recorded["video"] != 3 {
		t.Errorf("recorded = %v", metrics.recorded)
	}
	if r.Pending("video") != 0 {
		t.Errorf("Pending() after write = %d, want 0", r.Pending("video"))
	}

	// Entries already recorded are not collected again.
	r.Poll(ctx)
	if r.Pending("video") != 0 {
		t.Errorf("Pending() = %d, want 0 after re-poll", r.Pending("video"))
	}
}

func TestRecorder_LatePushAndOverwriteArchived(t *testing.T) {
	writer := &mockWriter{}
	r, tl := setup(t, dto.FileRotationConfig{MaxRecordsPerFile: 1}, writer, &mockMetrics{})
	ctx := context.Background()

	if err := tl.PushObject(day+10, []byte("ten")); err != nil {
		t.Fatal(err)
	}
	r.Poll(ctx)

	if err := tl.PushObject(day+5, []byte("five")); err != nil {
		t.Fatal(err)
	}
	r.Poll(ctx)

	if err := tl.PushObject(day+10, []byte("TEN")); err != nil {
		t.Fatal(err)
	}
	r.Poll(ctx)

	want := []struct {
		ts   timeline.Timestamp
		data string
	}{
		{day + 10, "ten"},
		{day + 5, "five"},
		{day + 10, "TEN"},
	}
	if len(writer.writes) != len(want) {
		t.Fatalf("wrote %d batches, want %d", len(writer.writes), len(want))
	}
	for i, w := range want {
		rec := writer.writes[i].records[0]
		if rec.Timestamp != float64(w.ts) || string(rec.Data) != w.data {
			t.Errorf("batch %d = {%v %q}, want {%v %q}", i, rec.Timestamp, rec.Data, float64(w.ts), w.data)
		}
	}
}

func TestRecorder_ErasedBeforeCollectSkipped(t *testing.T) {
	writer := &mockWriter{}
	r, tl := setup(t, dto.FileRotationConfig{MaxRecordsPerFile: 100}, writer, &mockMetrics{})

	_ = tl.PushObject(day, []byte("a"))
	_ = tl.PushObject(day+1, []byte("b"))
	tl.EraseObject(day)
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(writer.writes) != 1 || len(writer.writes[0].records) != 1 || writer.writes[0].records[0].Timestamp != float64(day+1) {
		t.Fatalf("writes = %+v, want one batch holding day+1", writer.writes)
	}
}

func TestRecorder_Subscribe(t *testing.T) {
	d := notify.New()
	defer d.Close()
	reg := registry.New(d, nil)
	defer reg.Close()
	tl, _ := reg.GetOrCreate(dto.TimelineConfig{Name: "video", Kind: dto.KindRaw})
	_, _ = reg.GetOrCreate(dto.TimelineConfig{Name: "log", Kind: dto.KindMessage})

	writer := &mockWriter{}
	r := New(Config{Interval: time.Second, Timelines: []string{"video"}, Format: event.FormatParquet}, reg, writer,
		storage.NewRouter("file", "", ""), storage.NewPolicy(dto.FileRotationConfig{MaxRecordsPerFile: 100}), nil, nil)

	// pushed before the subscription exists
	_ = tl.PushObject(day, []byte("a"))
	id, err := r.Subscribe(d)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if id != SubscriptionID {
		t.Errorf("Subscribe() id = %q, want %q", id, SubscriptionID)
	}
	_ = tl.PushObject(day-1, []byte("late"))

	deadline := time.Now().Add(2 * time.Second)
	for d.Stats().Subscribers[SubscriptionID].Delivered < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(writer.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writer.writes))
	}
	recs := writer.writes[0].records
	if len(recs) != 2 || recs[0].Timestamp != float64(day-1) || recs[1].Timestamp != float64(day) {
		t.Errorf("records = %+v, want day-1 then day", recs)
	}
}

func TestRecorder_FlushWritesPending(t *testing.T) {
	writer := &mockWriter{}
	r, tl := setup(t, dto.FileRotationConfig{MaxRecordsPerFile: 100}, writer, &mockMetrics{})

	if err := tl.PushObject(day, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(writer.writes) != 1 || len(writer.writes[0].records) != 1 {
		t.Fatalf("writes = %+v", writer.writes)
	}

	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("second Flush() error = %v", err)
	}
	if len(writer.writes) != 1 {
		t.Errorf("empty Flush() wrote a batch")
	}
}

func TestRecorder_WriteFailureKeepsRecords(t *testing.T) {
	writer := &mockWriter{err: errors.New("bucket unavailable")}
	metrics := &mockMetrics{}
	r, tl := setup(t, dto.FileRotationConfig{MaxRecordsPerFile: 1}, writer, metrics)

	if err := tl.PushObject(day, []byte("a")); err != nil {
		t.Fatal(err)
	}
	r.Poll(context.Background())
	if metrics.failed != 1 {
		t.Errorf("failed writes = %d, want 1", metrics.failed)
	}
	if r.Pending("video") != 1 {
		t.Fatalf("Pending() = %d, want 1", r.Pending("video"))
	}

	writer.err = nil
	if err := tl.PushObject(day+1, []byte("b")); err != nil {
		t.Fatal(err)
	}
	r.Poll(context.Background())
	if len(writer.writes) != 1 || len(writer.writes[0].records) != 2 {
		t.Fatalf("writes = %+v, want one batch of 2", writer.writes)
	}
}

func TestRecorder_EncodeFailureDiscardsBatch(t *testing.T) {
	writer := &mockWriter{err: &apperrors.StorageError{Operation: apperrors.OpEncode, Path: "video", Err: errors.New("bad record")}}
	metrics := &mockMetrics{}
	r, tl := setup(t, dto.FileRotationConfig{MaxRecordsPerFile: 1}, writer, metrics)

	if err := tl.PushObject(day, []byte("a")); err != nil {
		t.Fatal(err)
	}
	r.Poll(context.Background())
	if metrics.failed != 1 {
		t.Errorf("failed writes = %d, want 1", metrics.failed)
	}
	if r.Pending("video") != 0 {
		t.Errorf("Pending() = %d, want 0 after an encode failure", r.Pending("video"))
	}
}

func TestRecorder_UnknownTimelineSkipped(t *testing.T) {
	writer := &mockWriter{}
	reg := registry.New(nil, nil)
	defer reg.Close()
	r := New(Config{Interval: time.Second, Timelines: []string{"missing"}, Format: event.FormatAvro}, reg, writer,
		storage.NewRouter("file", "", ""), storage.NewPolicy(dto.FileRotationConfig{}), nil, nil)

	r.Poll(context.Background())
	if err := r.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
	if len(writer.writes) != 0 {
		t.Errorf("writes = %d, want 0", len(writer.writes))
	}
}

func TestRecorder_RunFlushesOnCancel(t *testing.T) {
	writer := &mockWriter{}
	r, tl := setup(t, dto.FileRotationConfig{MaxRecordsPerFile: 100}, writer, &mockMetrics{})
	if err := tl.PushObject(day, []byte("a")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.writes) != 1 {
		t.Errorf("writes = %d, want 1", len(writer.writes))
	}
}
