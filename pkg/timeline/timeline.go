package timeline

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// TimeLine is a timestamp-indexed store of TimedBuffers shared between
// producers and consumers running on different goroutines.
//
// Reads (Get*, IsObjectPresent, iteration) run concurrently with each other;
// writes (Push*, Erase*, ClearTimeline, Close) are exclusive. Notifications
// are delivered to the configured Sink after the write lock is released, in
// the order the writes were committed.
type TimeLine struct {
	name   string
	opts   options
	logger *zap.Logger
	pool   *bufferPool
	events *emitter

	mu     sync.RWMutex
	ring   *ring
	closed bool
}

// New creates an empty TimeLine.
func New(name string, opts ...Option) *TimeLine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With(zap.String("timeline", name))
	tl := &TimeLine{
		name:   name,
		opts:   o,
		logger: logger,
		events: newEmitter(o.sink, logger),
		ring:   newRing(o.maxElements, o.duplicates),
	}
	if o.pooled {
		tl.pool = &bufferPool{}
	}
	return tl
}

// Name returns the timeline name.
func (tl *TimeLine) Name() string {
	return tl.name
}

// MaxElements returns the capacity bound, zero when unbounded.
func (tl *TimeLine) MaxElements() int {
	return tl.opts.maxElements
}

// DuplicatePolicy returns the policy applied to pushes of an existing timestamp.
func (tl *TimeLine) DuplicatePolicy() DuplicatePolicy {
	return tl.opts.duplicates
}

// Len returns the number of stored objects.
func (tl *TimeLine) Len() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.ring.len()
}

// PushObject copies data into a new buffer stamped with ts and inserts it.
// On error the timeline is unchanged.
func (tl *TimeLine) PushObject(ts Timestamp, data []byte) error {
	buf, err := tl.allocate(ts, len(data))
	if err != nil {
		return err
	}
	copy(buf.data, data)
	if err := tl.insert(buf); err != nil {
		buf.Release()
		return err
	}
	return nil
}

// PushBuffer inserts buf, transferring the caller's reference to the
// timeline. On error the caller keeps its reference and buf stays mutable.
func (tl *TimeLine) PushBuffer(buf *TimedBuffer) error {
	if buf == nil || len(buf.data) == 0 {
		return &AllocationError{Size: 0}
	}
	if err := tl.checkSize(len(buf.data)); err != nil {
		return err
	}
	if err := checkTimestamp(buf.timestamp); err != nil {
		return err
	}
	if !buf.owned.CompareAndSwap(false, true) {
		return ErrImmutable
	}
	if err := tl.insert(buf); err != nil {
		buf.owned.Store(false)
		return err
	}
	return nil
}

func checkTimestamp(ts Timestamp) error {
	if math.IsNaN(float64(ts)) {
		return fmt.Errorf("%w: NaN", ErrInvalidTimestamp)
	}
	return nil
}

func (tl *TimeLine) checkSize(size int) error {
	if size <= 0 {
		return &AllocationError{Size: size}
	}
	if limit := tl.opts.maxBufferSize; limit > 0 && size > limit {
		return &AllocationError{Size: size, Limit: limit}
	}
	return nil
}

// allocate returns an owned, unfilled buffer of size bytes. The bytes come
// from the pool when one is configured.
func (tl *TimeLine) allocate(ts Timestamp, size int) (*TimedBuffer, error) {
	if err := checkTimestamp(ts); err != nil {
		return nil, err
	}
	if err := tl.checkSize(size); err != nil {
		return nil, err
	}

	var buf *TimedBuffer
	if tl.pool != nil {
		buf = newTimedBuffer(ts, tl.pool.get(size), WithDeleter(tl.pool.put))
	} else {
		buf = newTimedBuffer(ts, make([]byte, size))
	}
	buf.owned.Store(true)
	return buf, nil
}

func (tl *TimeLine) insert(buf *TimedBuffer) error {
	tl.mu.Lock()
	if tl.closed {
		tl.mu.Unlock()
		return ErrClosed
	}
	replaced, evicted, err := tl.ring.insert(buf)
	if err != nil {
		tl.mu.Unlock()
		return err
	}
	if evicted != nil {
		tl.events.enqueue(Event{
			Kind:      ObjectRemoved,
			Timeline:  tl.name,
			Timestamp: evicted.timestamp,
			Evicted:   true,
		})
	}
	tl.events.enqueue(Event{
		Kind:      ObjectPushed,
		Timeline:  tl.name,
		Timestamp: buf.timestamp,
		Size:      len(buf.data),
	})
	count := tl.ring.len()
	tl.mu.Unlock()

	if evicted != nil {
		tl.logger.Debug("evicted oldest object",
			zap.Float64("timestamp", float64(evicted.timestamp)),
			zap.Int("max_elements", tl.opts.maxElements),
			zap.Int("count", count),
		)
		evicted.Release()
	}
	if replaced != nil {
		replaced.Release()
	}
	tl.events.flush()
	return nil
}

// GetObject returns the object stored at exactly ts, or ErrNotFound. The
// returned buffer is a borrowed view; use AcquireObject to keep it alive.
func (tl *TimeLine) GetObject(ts Timestamp) (*TimedBuffer, error) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	buf, ok := tl.ring.findExact(ts)
	if !ok {
		return nil, ErrNotFound
	}
	return buf, nil
}

// GetClosestObject returns the object whose timestamp is nearest to ts,
// restricted by dir. Equidistant candidates resolve to the earlier one.
func (tl *TimeLine) GetClosestObject(ts Timestamp, dir Direction) (*TimedBuffer, error) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	buf, ok := tl.ring.findClosest(ts, dir)
	if !ok {
		return nil, ErrNotFound
	}
	return buf, nil
}

// GetNewerObject returns the object with the greatest timestamp.
func (tl *TimeLine) GetNewerObject() (*TimedBuffer, error) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	buf, ok := tl.ring.newest()
	if !ok {
		return nil, ErrNotFound
	}
	return buf, nil
}

// GetNewerTimestamp returns the greatest stored timestamp.
func (tl *TimeLine) GetNewerTimestamp() (Timestamp, error) {
	buf, err := tl.GetNewerObject()
	if err != nil {
		return 0, err
	}
	return buf.timestamp, nil
}

// GetOldestObject returns the object with the smallest timestamp.
func (tl *TimeLine) GetOldestObject() (*TimedBuffer, error) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	buf, ok := tl.ring.oldest()
	if !ok {
		return nil, ErrNotFound
	}
	return buf, nil
}

// AcquireObject is GetObject with an extra reference taken under the read
// lock. The caller must Release the returned buffer.
func (tl *TimeLine) AcquireObject(ts Timestamp) (*TimedBuffer, error) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	buf, ok := tl.ring.findExact(ts)
	if !ok || !buf.Retain() {
		return nil, ErrNotFound
	}
	return buf, nil
}

// AcquireClosestObject is GetClosestObject with an extra reference. The
// caller must Release the returned buffer.
func (tl *TimeLine) AcquireClosestObject(ts Timestamp, dir Direction) (*TimedBuffer, error) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	buf, ok := tl.ring.findClosest(ts, dir)
	if !ok || !buf.Retain() {
		return nil, ErrNotFound
	}
	return buf, nil
}

// IsObjectPresent reports whether an object is stored at exactly ts.
func (tl *TimeLine) IsObjectPresent(ts Timestamp) bool {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	_, ok := tl.ring.findExact(ts)
	return ok
}

// EraseObject removes the object at ts. Erasing an absent timestamp is a
// no-op; the result reports whether anything was removed.
func (tl *TimeLine) EraseObject(ts Timestamp) bool {
	tl.mu.Lock()
	old := tl.ring.erase(ts)
	if old != nil {
		tl.events.enqueue(Event{Kind: ObjectRemoved, Timeline: tl.name, Timestamp: ts})
	}
	tl.mu.Unlock()

	if old == nil {
		return false
	}
	old.Release()
	tl.events.flush()
	return true
}

// EraseBefore removes every object strictly older than ts and returns how
// many were removed. One ObjectRemoved event is emitted per object.
func (tl *TimeLine) EraseBefore(ts Timestamp) int {
	tl.mu.Lock()
	stale := tl.ring.eraseBefore(ts)
	for _, buf := range stale {
		tl.events.enqueue(Event{Kind: ObjectRemoved, Timeline: tl.name, Timestamp: buf.timestamp})
	}
	tl.mu.Unlock()

	for _, buf := range stale {
		buf.Release()
	}
	if len(stale) > 0 {
		tl.events.flush()
	}
	return len(stale)
}

// ClearTimeline removes every object and emits a single Cleared event,
// even when the timeline was already empty. It is a no-op once closed.
func (tl *TimeLine) ClearTimeline() {
	tl.mu.Lock()
	if tl.closed {
		tl.mu.Unlock()
		return
	}
	all := tl.ring.eraseAll()
	tl.events.enqueue(Event{Kind: Cleared, Timeline: tl.name})
	tl.mu.Unlock()

	for _, buf := range all {
		buf.Release()
	}
	tl.events.flush()
}

// Close frees every stored object without emitting notifications. Later
// pushes fail with ErrClosed. Close is idempotent.
func (tl *TimeLine) Close() error {
	tl.mu.Lock()
	if tl.closed {
		tl.mu.Unlock()
		return nil
	}
	tl.closed = true
	all := tl.ring.eraseAll()
	tl.mu.Unlock()

	for _, buf := range all {
		buf.Release()
	}
	tl.events.flush()
	tl.logger.Debug("timeline closed", zap.Int("freed", len(all)))
	return nil
}

// Timestamps returns the stored timestamps in ascending order.
func (tl *TimeLine) Timestamps() []Timestamp {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	out := make([]Timestamp, 0, tl.ring.len())
	tl.ring.tree.Ascend(func(item *TimedBuffer) bool {
		out = append(out, item.timestamp)
		return true
	})
	return out
}

// Range calls fn for each object with from <= timestamp <= to in ascending
// order until fn returns false. fn runs without the timeline lock held and
// may call back into the timeline.
func (tl *TimeLine) Range(from, to Timestamp, fn func(*TimedBuffer) bool) {
	var pinned []*TimedBuffer
	tl.mu.RLock()
	tl.ring.ascend(from, to, func(item *TimedBuffer) bool {
		if item.Retain() {
			pinned = append(pinned, item)
		}
		return true
	})
	tl.mu.RUnlock()

	defer func() {
		for _, buf := range pinned {
			buf.Release()
		}
	}()
	for _, buf := range pinned {
		if !fn(buf) {
			return
		}
	}
}

// Snapshot returns deep copies of every stored object in ascending order.
func (tl *TimeLine) Snapshot() []*TimedBuffer {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	out := make([]*TimedBuffer, 0, tl.ring.len())
	tl.ring.tree.Ascend(func(item *TimedBuffer) bool {
		out = append(out, item.Clone())
		return true
	})
	return out
}

// Since returns deep copies of the objects strictly newer than ts.
func (tl *TimeLine) Since(ts Timestamp) []*TimedBuffer {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	var out []*TimedBuffer
	tl.ring.ascend(ts, Timestamp(math.Inf(1)), func(item *TimedBuffer) bool {
		if item.timestamp > ts {
			out = append(out, item.Clone())
		}
		return true
	})
	return out
}

// Bracket returns the nearest objects at or before ts and at or after ts.
// Either may be nil; ErrNotFound is returned only when both are.
func (tl *TimeLine) Bracket(ts Timestamp) (before, after *TimedBuffer, err error) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	before, after = tl.ring.floor(ts), tl.ring.ceil(ts)
	if before == nil && after == nil {
		return nil, nil, ErrNotFound
	}
	return before, after, nil
}
