package timeline

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"
)

// Sample is a decoded value together with its timestamp.
type Sample[T any] struct {
	Timestamp Timestamp
	Value     T
}

// Generic is a typed view over a TimeLine for a fixed-layout type T.
//
// Values are stored as their native-endian binary image, so T must have a
// fixed encoded size: numbers, bools, arrays and structs of those. Every
// buffer written through Generic is exactly Stride bytes; a buffer of any
// other size found on the underlying timeline yields a *TypeMismatchError.
type Generic[T any] struct {
	tl     *TimeLine
	stride int
}

// NewGeneric wraps tl for values of type T.
func NewGeneric[T any](tl *TimeLine) (*Generic[T], error) {
	var zero T
	stride := binary.Size(zero)
	if stride <= 0 {
		return nil, fmt.Errorf("%w: %T", ErrInvalidElement, zero)
	}
	return &Generic[T]{tl: tl, stride: stride}, nil
}

// Timeline returns the underlying untyped timeline.
func (g *Generic[T]) Timeline() *TimeLine {
	return g.tl
}

// Stride returns the encoded size of T in bytes.
func (g *Generic[T]) Stride() int {
	return g.stride
}

// Push stores v at ts.
func (g *Generic[T]) Push(ts Timestamp, v T) error {
	buf, err := g.tl.allocate(ts, g.stride)
	if err != nil {
		return err
	}
	if _, err := binary.Encode(buf.data, binary.NativeEndian, v); err != nil {
		buf.Release()
		return fmt.Errorf("encode %T: %w", v, err)
	}
	if err := g.tl.insert(buf); err != nil {
		buf.Release()
		return err
	}
	return nil
}

// GetObject returns the value stored at exactly ts.
func (g *Generic[T]) GetObject(ts Timestamp) (T, error) {
	g.tl.mu.RLock()
	defer g.tl.mu.RUnlock()
	var zero T
	buf, ok := g.tl.ring.findExact(ts)
	if !ok {
		return zero, ErrNotFound
	}
	s, err := g.decode(buf)
	if err != nil {
		return zero, err
	}
	return s.Value, nil
}

// GetClosestObject returns the value nearest to ts, restricted by dir.
func (g *Generic[T]) GetClosestObject(ts Timestamp, dir Direction) (Sample[T], error) {
	g.tl.mu.RLock()
	defer g.tl.mu.RUnlock()
	buf, ok := g.tl.ring.findClosest(ts, dir)
	if !ok {
		return Sample[T]{}, ErrNotFound
	}
	return g.decode(buf)
}

// GetNewerObject returns the value with the greatest timestamp.
func (g *Generic[T]) GetNewerObject() (Sample[T], error) {
	g.tl.mu.RLock()
	defer g.tl.mu.RUnlock()
	buf, ok := g.tl.ring.newest()
	if !ok {
		return Sample[T]{}, ErrNotFound
	}
	return g.decode(buf)
}

// Bracket returns the samples at or before ts and at or after ts. Either
// may be nil; ErrNotFound is returned when both are.
func (g *Generic[T]) Bracket(ts Timestamp) (before, after *Sample[T], err error) {
	g.tl.mu.RLock()
	defer g.tl.mu.RUnlock()
	lo, hi := g.tl.ring.floor(ts), g.tl.ring.ceil(ts)
	if lo == nil && hi == nil {
		return nil, nil, ErrNotFound
	}
	if lo != nil {
		s, err := g.decode(lo)
		if err != nil {
			return nil, nil, err
		}
		before = &s
	}
	if hi != nil {
		s, err := g.decode(hi)
		if err != nil {
			return nil, nil, err
		}
		after = &s
	}
	return before, after, nil
}

// decode must be called with the timeline read lock held.
func (g *Generic[T]) decode(buf *TimedBuffer) (Sample[T], error) {
	if len(buf.data) != g.stride {
		err := &TypeMismatchError{
			Timeline:  g.tl.name,
			Timestamp: buf.timestamp,
			Want:      g.stride,
			Got:       len(buf.data),
		}
		g.tl.logger.Error("element size mismatch",
			zap.Float64("timestamp", float64(buf.timestamp)),
			zap.Int("want", err.Want),
			zap.Int("got", err.Got),
		)
		return Sample[T]{}, err
	}
	s := Sample[T]{Timestamp: buf.timestamp}
	if _, err := binary.Decode(buf.data, binary.NativeEndian, &s.Value); err != nil {
		return Sample[T]{}, fmt.Errorf("decode %T: %w", s.Value, err)
	}
	return s, nil
}
