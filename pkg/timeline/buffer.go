package timeline

import (
	"math"
	"sync/atomic"
	"time"
)

// Timestamp is a clock value expressed in milliseconds. Timestamps are
// totally ordered; NaN is rejected on insertion.
type Timestamp float64

// Now returns the current wall clock as a Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts t to a millisecond Timestamp.
func FromTime(t time.Time) Timestamp {
	sub := t.Nanosecond() % int(time.Millisecond)
	return Timestamp(float64(t.UnixMilli()) + float64(sub)/float64(time.Millisecond))
}

// Time converts the timestamp back to a time.Time.
func (ts Timestamp) Time() time.Time {
	ms := math.Floor(float64(ts))
	frac := float64(ts) - ms
	return time.UnixMilli(int64(ms)).Add(time.Duration(frac * float64(time.Millisecond)))
}

// TimedBuffer is a reference-counted chunk of bytes stamped with a timestamp.
//
// Once a buffer has been inserted into a TimeLine its content never changes;
// the timeline holds one reference and releases it on eviction, erasure,
// clear or close. Views returned by Bytes are borrowed: callers that need the
// bytes past that point either Retain the buffer or Clone it.
type TimedBuffer struct {
	timestamp Timestamp
	data      []byte
	deleter   func([]byte)
	refs      atomic.Int32
	owned     atomic.Bool
}

// BufferOption configures a TimedBuffer.
type BufferOption func(*TimedBuffer)

// WithDeleter registers fn to run exactly once when the last reference to
// the buffer is released. fn receives the buffer's bytes.
func WithDeleter(fn func([]byte)) BufferOption {
	return func(b *TimedBuffer) {
		b.deleter = fn
	}
}

// NewTimedBuffer copies src into a new buffer stamped with ts.
func NewTimedBuffer(ts Timestamp, src []byte, opts ...BufferOption) (*TimedBuffer, error) {
	if len(src) == 0 {
		return nil, &AllocationError{Size: 0}
	}
	data := make([]byte, len(src))
	copy(data, src)
	return newTimedBuffer(ts, data, opts...), nil
}

// AdoptTimedBuffer wraps data without copying it. The caller gives up
// ownership of data.
func AdoptTimedBuffer(ts Timestamp, data []byte, opts ...BufferOption) (*TimedBuffer, error) {
	if len(data) == 0 {
		return nil, &AllocationError{Size: 0}
	}
	return newTimedBuffer(ts, data, opts...), nil
}

func newTimedBuffer(ts Timestamp, data []byte, opts ...BufferOption) *TimedBuffer {
	b := &TimedBuffer{
		timestamp: ts,
		data:      data,
	}
	b.refs.Store(1)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Timestamp returns the buffer's timestamp.
func (b *TimedBuffer) Timestamp() Timestamp {
	return b.timestamp
}

// Size returns the byte length of the buffer.
func (b *TimedBuffer) Size() int {
	return len(b.data)
}

// Bytes returns a read-only view of the buffer content.
func (b *TimedBuffer) Bytes() []byte {
	return b.data
}

// Clone returns a deep copy that is independent of any timeline.
func (b *TimedBuffer) Clone() *TimedBuffer {
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return newTimedBuffer(b.timestamp, data)
}

// DeepCopy replaces this buffer's timestamp and content with a copy of
// other. Buffers that have been inserted into a timeline are immutable.
func (b *TimedBuffer) DeepCopy(other *TimedBuffer) error {
	if b.owned.Load() {
		return ErrImmutable
	}
	if other.Size() == 0 {
		return &AllocationError{Size: 0}
	}
	if b.deleter != nil {
		b.deleter(b.data)
		b.deleter = nil
	}
	b.data = make([]byte, len(other.data))
	copy(b.data, other.data)
	b.timestamp = other.timestamp
	return nil
}

// Retain adds a reference. It returns false when the buffer has already been
// destroyed, in which case its bytes must not be used.
func (b *TimedBuffer) Retain() bool {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return false
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The deleter runs when the count reaches zero.
func (b *TimedBuffer) Release() {
	n := b.refs.Add(-1)
	switch {
	case n == 0:
		if b.deleter != nil {
			b.deleter(b.data)
		}
	case n < 0:
		panic("timeline: TimedBuffer released more times than retained")
	}
}
