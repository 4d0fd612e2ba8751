package timeline

import (
	"math"

	"github.com/google/btree"
)

const ringDegree = 16

// ring is the ordered timestamp -> buffer storage owned by a TimeLine.
// It is not safe for concurrent use; the TimeLine lock guards it.
type ring struct {
	tree     *btree.BTreeG[*TimedBuffer]
	capacity int
	policy   DuplicatePolicy
}

func byTimestamp(a, b *TimedBuffer) bool {
	return a.timestamp < b.timestamp
}

func newRing(capacity int, policy DuplicatePolicy) *ring {
	return &ring{
		tree:     btree.NewG[*TimedBuffer](ringDegree, byTimestamp),
		capacity: capacity,
		policy:   policy,
	}
}

// keyAt builds a lookup key for ts.
func keyAt(ts Timestamp) *TimedBuffer {
	return &TimedBuffer{timestamp: ts}
}

// unordered reports whether ts cannot be placed in the tree. NaN compares
// neither less nor greater than any key, so btree would treat it as equal
// to whichever node it reaches first.
func unordered(ts Timestamp) bool {
	return math.IsNaN(float64(ts))
}

// insert stores buf. It returns the entry buf replaced, if any, and the
// entry evicted to keep the ring within its bound, if any. The evicted entry
// may be buf itself when buf is older than everything already stored.
func (r *ring) insert(buf *TimedBuffer) (replaced, evicted *TimedBuffer, err error) {
	if r.policy == DuplicateReject && r.tree.Has(buf) {
		return nil, nil, ErrDuplicate
	}
	if old, ok := r.tree.ReplaceOrInsert(buf); ok {
		replaced = old
	}
	if r.capacity > 0 && r.tree.Len() > r.capacity {
		evicted, _ = r.tree.DeleteMin()
	}
	return replaced, evicted, nil
}

func (r *ring) findExact(ts Timestamp) (*TimedBuffer, bool) {
	if unordered(ts) {
		return nil, false
	}
	return r.tree.Get(keyAt(ts))
}

func (r *ring) floor(ts Timestamp) *TimedBuffer {
	var found *TimedBuffer
	if unordered(ts) {
		return nil
	}
	r.tree.DescendLessOrEqual(keyAt(ts), func(item *TimedBuffer) bool {
		found = item
		return false
	})
	return found
}

func (r *ring) ceil(ts Timestamp) *TimedBuffer {
	var found *TimedBuffer
	if unordered(ts) {
		return nil
	}
	r.tree.AscendGreaterOrEqual(keyAt(ts), func(item *TimedBuffer) bool {
		found = item
		return false
	})
	return found
}

// findClosest returns the entry nearest to ts subject to dir. Equidistant
// candidates resolve to the earlier timestamp.
func (r *ring) findClosest(ts Timestamp, dir Direction) (*TimedBuffer, bool) {
	switch dir {
	case Before:
		b := r.floor(ts)
		return b, b != nil
	case After:
		a := r.ceil(ts)
		return a, a != nil
	}

	before, after := r.floor(ts), r.ceil(ts)
	switch {
	case before == nil && after == nil:
		return nil, false
	case before == nil:
		return after, true
	case after == nil:
		return before, true
	}
	if after.timestamp-ts < ts-before.timestamp {
		return after, true
	}
	return before, true
}

func (r *ring) erase(ts Timestamp) *TimedBuffer {
	if unordered(ts) {
		return nil
	}
	old, ok := r.tree.Delete(keyAt(ts))
	if !ok {
		return nil
	}
	return old
}

// eraseBefore removes every entry strictly older than ts.
func (r *ring) eraseBefore(ts Timestamp) []*TimedBuffer {
	var stale []*TimedBuffer
	if unordered(ts) {
		return nil
	}
	r.tree.AscendLessThan(keyAt(ts), func(item *TimedBuffer) bool {
		stale = append(stale, item)
		return true
	})
	for _, item := range stale {
		r.tree.Delete(item)
	}
	return stale
}

func (r *ring) eraseAll() []*TimedBuffer {
	all := make([]*TimedBuffer, 0, r.tree.Len())
	r.tree.Ascend(func(item *TimedBuffer) bool {
		all = append(all, item)
		return true
	})
	r.tree.Clear(false)
	return all
}

func (r *ring) oldest() (*TimedBuffer, bool) {
	return r.tree.Min()
}

func (r *ring) newest() (*TimedBuffer, bool) {
	return r.tree.Max()
}

// ascend visits entries with from <= timestamp <= to in order until fn
// returns false.
func (r *ring) ascend(from, to Timestamp, fn func(*TimedBuffer) bool) {
	if unordered(from) || unordered(to) {
		return
	}
	r.tree.AscendGreaterOrEqual(keyAt(from), func(item *TimedBuffer) bool {
		if item.timestamp > to {
			return false
		}
		return fn(item)
	})
}

func (r *ring) len() int {
	return r.tree.Len()
}
