package timeline

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Direction constrains closest-match lookups.
type Direction int

const (
	// Both accepts entries on either side of the query.
	Both Direction = iota
	// Before accepts entries at or before the query.
	Before
	// After accepts entries at or after the query.
	After
)

func (d Direction) String() string {
	switch d {
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "both"
	}
}

// ParseDirection parses "before", "after" or "both".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "", "both":
		return Both, nil
	case "before":
		return Before, nil
	case "after":
		return After, nil
	default:
		return Both, fmt.Errorf("unknown direction: %q", s)
	}
}

// DuplicatePolicy decides what a push does with a timestamp already present.
type DuplicatePolicy int

const (
	// DuplicateReplace swaps the stored object for the new one.
	DuplicateReplace DuplicatePolicy = iota
	// DuplicateReject leaves the timeline unchanged and fails with ErrDuplicate.
	DuplicateReject
)

func (p DuplicatePolicy) String() string {
	if p == DuplicateReject {
		return "reject"
	}
	return "replace"
}

// ParseDuplicatePolicy parses "replace" or "reject".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(s) {
	case "", "replace":
		return DuplicateReplace, nil
	case "reject":
		return DuplicateReject, nil
	default:
		return DuplicateReplace, fmt.Errorf("unknown duplicate policy: %q", s)
	}
}

// Option configures a TimeLine.
type Option func(*options)

type options struct {
	maxElements   int
	duplicates    DuplicatePolicy
	sink          Sink
	logger        *zap.Logger
	pooled        bool
	maxBufferSize int
}

func defaultOptions() options {
	return options{
		duplicates: DuplicateReplace,
		logger:     zap.NewNop(),
	}
}

// WithMaxElements bounds the number of stored objects. The oldest object is
// evicted when a push exceeds n. Zero leaves the timeline unbounded.
func WithMaxElements(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxElements = n
	}
}

// WithDuplicatePolicy selects how pushes with an existing timestamp behave.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(o *options) {
		o.duplicates = p
	}
}

// WithSink sets the receiver of pushed/removed/cleared notifications.
func WithSink(s Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBufferPool recycles the bytes of destroyed objects for later pushes.
// Borrowed views must then never outlive the object they came from.
func WithBufferPool() Option {
	return func(o *options) {
		o.pooled = true
	}
}

// WithMaxBufferSize rejects pushes larger than n bytes with ErrAllocation.
func WithMaxBufferSize(n int) Option {
	return func(o *options) {
		o.maxBufferSize = n
	}
}
