// Package recorder archives timeline entries. It marks every pushed
// timestamp as it is notified, and on each poll reads the marked entries,
// batches them per timeline and writes a batch once the rotation policy
// says so. Late pushes and overwrites are archived like any other push.
package recorder

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/jittakal/kaftimeline/internal/errors"
	"github.com/jittakal/kaftimeline/internal/registry"
	"github.com/jittakal/kaftimeline/pkg/event"
	"github.com/jittakal/kaftimeline/pkg/notify"
	"github.com/jittakal/kaftimeline/pkg/storage"
	"github.com/jittakal/kaftimeline/pkg/timeline"
)

const (
	// recordOverhead approximates the per-record encoding cost beyond the data.
	recordOverhead = 48

	// SubscriptionID identifies the recorder's dispatcher subscription.
	SubscriptionID = "recorder"

	subscriptionQueueSize = 4096
)

// Metrics records archival progress.
type Metrics interface {
	AddRecordsRecorded(timeline string, n int)
	IncFilesWritten(timeline, format, status string)
}

// batch holds the records of one timeline awaiting a write.
type batch struct {
	records        []event.Record
	currentSize    int64
	firstWriteTime time.Time
	lastWriteTime  time.Time
}

func (b *batch) add(r event.Record) {
	b.records = append(b.records, r)
	b.currentSize += int64(len(r.Data) + len(r.Timeline) + recordOverhead)
	if b.firstWriteTime.IsZero() {
		b.firstWriteTime = r.RecordedAt
	}
	b.lastWriteTime = r.RecordedAt
}

func (b *batch) stats() event.FileStats {
	return event.FileStats{
		RecordCount:    len(b.records),
		SizeBytes:      b.currentSize,
		FirstWriteTime: b.firstWriteTime,
		LastWriteTime:  b.lastWriteTime,
	}
}

func (b *batch) reset() {
	b.records = nil
	b.currentSize = 0
	b.firstWriteTime = time.Time{}
	b.lastWriteTime = time.Time{}
}

// Config selects what the recorder archives and how often it polls.
type Config struct {
	Interval time.Duration
	// Timelines to record. Empty records every registered timeline.
	Timelines []string
	Format    event.FileFormat
}

// Recorder polls timelines and writes their new entries to storage.
type Recorder struct {
	cfg      Config
	registry *registry.Registry
	writer   storage.Writer
	router   storage.Router
	policy   storage.RotationPolicy
	logger   *zap.Logger
	metrics  Metrics

	mu      sync.Mutex
	batches map[string]*batch
	now     func() time.Time

	// marked holds the timestamps pushed since the last collect, per
	// timeline. It has its own lock so Observe never waits on a write.
	markMu sync.Mutex
	marked map[string]map[timeline.Timestamp]struct{}
}

// New creates a recorder.
func New(cfg Config, reg *registry.Registry, writer storage.Writer, router storage.Router, policy storage.RotationPolicy, logger *zap.Logger, metrics Metrics) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		cfg:      cfg,
		registry: reg,
		writer:   writer,
		router:   router,
		policy:   policy,
		logger:   logger,
		metrics:  metrics,
		batches:  make(map[string]*batch),
		now:      time.Now,
		marked:   make(map[string]map[timeline.Timestamp]struct{}),
	}
}

// Observe marks the timestamp of an ObjectPushed event for the next
// collect. Other kinds, and timelines the recorder does not archive, are
// ignored. Observe only touches memory, so it is safe to run as a Block
// subscriber or as a timeline.Sink.
func (r *Recorder) Observe(e timeline.Event) {
	if e.Kind != timeline.ObjectPushed || !r.records(e.Timeline) {
		return
	}
	r.mark(e.Timeline, e.Timestamp)
}

// Subscribe attaches the recorder to d and marks the entries every recorded
// timeline already holds, so nothing pushed before the subscription is
// missed. Marks are a set, so an entry seen both ways is recorded once.
func (r *Recorder) Subscribe(d *notify.Dispatcher) (string, error) {
	opts := []notify.SubscribeOption{
		notify.WithID(SubscriptionID),
		notify.WithQueueSize(subscriptionQueueSize),
		notify.WithPolicy(notify.Block),
		notify.WithKinds(timeline.ObjectPushed),
	}
	if len(r.cfg.Timelines) > 0 {
		opts = append(opts, notify.WithTimelines(r.cfg.Timelines...))
	}
	id, err := d.Subscribe(r.Observe, opts...)
	if err != nil {
		return "", err
	}
	for _, name := range r.names() {
		tl, _, err := r.registry.Get(name)
		if err != nil {
			continue
		}
		for _, ts := range tl.Timestamps() {
			r.mark(name, ts)
		}
	}
	return id, nil
}

func (r *Recorder) records(name string) bool {
	return len(r.cfg.Timelines) == 0 || slices.Contains(r.cfg.Timelines, name)
}

func (r *Recorder) mark(name string, ts timeline.Timestamp) {
	r.markMu.Lock()
	defer r.markMu.Unlock()
	set, ok := r.marked[name]
	if !ok {
		set = make(map[timeline.Timestamp]struct{})
		r.marked[name] = set
	}
	set[ts] = struct{}{}
}

// takeMarks removes and returns the marked timestamps of name in ascending
// order.
func (r *Recorder) takeMarks(name string) []timeline.Timestamp {
	r.markMu.Lock()
	set := r.marked[name]
	delete(r.marked, name)
	r.markMu.Unlock()

	out := make([]timeline.Timestamp, 0, len(set))
	for ts := range set {
		out = append(out, ts)
	}
	slices.Sort(out)
	return out
}

// Run polls until ctx is done, then writes whatever is still pending.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("recorder started",
		zap.Duration("interval", r.cfg.Interval),
		zap.String("format", string(r.cfg.Format)),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping recorder, flushing pending records")
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := r.Flush(flushCtx); err != nil {
				r.logger.Error("failed to flush pending records", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			r.Poll(ctx)
		}
	}
}

func (r *Recorder) names() []string {
	if len(r.cfg.Timelines) > 0 {
		return r.cfg.Timelines
	}
	return r.registry.Names()
}

// Poll collects new entries of every recorded timeline and writes the
// batches the rotation policy marks ready.
func (r *Recorder) Poll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.names() {
		b, err := r.collect(name)
		if err != nil {
			r.logger.Warn("failed to collect timeline entries", zap.String("timeline", name), zap.Error(err))
			continue
		}
		if r.policy.ShouldRotate(b.stats()) {
			r.write(ctx, name, b)
		}
	}
}

// Flush collects and writes every pending batch regardless of policy.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, name := range r.names() {
		if _, err := r.collect(name); err != nil && !errors.Is(err, apperrors.ErrUnknownTimeline) {
			errs = append(errs, err)
		}
	}
	for name, b := range r.batches {
		if len(b.records) == 0 {
			continue
		}
		if err := r.write(ctx, name, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) collect(name string) (*batch, error) {
	b, ok := r.batches[name]
	if !ok {
		b = &batch{}
		r.batches[name] = b
	}

	marks := r.takeMarks(name)
	tl, cfg, err := r.registry.Get(name)
	if err != nil {
		return b, err
	}

	now := r.now()
	for _, ts := range marks {
		// Entries evicted or erased since they were pushed are gone.
		buf, err := tl.AcquireObject(ts)
		if err != nil {
			continue
		}
		data := make([]byte, buf.Size())
		copy(data, buf.Bytes())
		buf.Release()

		b.add(event.Record{
			Timeline:   name,
			Kind:       cfg.Kind,
			Timestamp:  float64(ts),
			Data:       data,
			RecordedAt: now,
		})
	}
	return b, nil
}

// write stores b and resets it. On failure the records stay pending and
// are retried with the next batch, unless retrying cannot succeed.
func (r *Recorder) write(ctx context.Context, name string, b *batch) error {
	path := r.router.Route(name, b.records[0].GetEventTimeUnix())

	if _, err := r.writer.Write(ctx, b.records, path, r.cfg.Format); err != nil {
		r.logger.Error("failed to write timeline records",
			zap.String("timeline", name),
			zap.String("path", path),
			zap.Int("record_count", len(b.records)),
			zap.Error(err),
		)
		if r.metrics != nil {
			r.metrics.IncFilesWritten(name, string(r.cfg.Format), "error")
		}
		if apperrors.Permanent(err) {
			r.logger.Error("discarding timeline records the encoder rejects",
				zap.String("timeline", name),
				zap.Int("record_count", len(b.records)),
			)
			b.reset()
		}
		return err
	}

	r.logger.Debug("recorded timeline entries",
		zap.String("timeline", name),
		zap.String("path", path),
		zap.Int("record_count", len(b.records)),
	)
	if r.metrics != nil {
		r.metrics.AddRecordsRecorded(name, len(b.records))
	}
	b.reset()
	return nil
}

// Pending returns the number of records waiting to be written for name.
func (r *Recorder) Pending(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.batches[name]; ok {
		return len(b.records)
	}
	return 0
}
