package timeline

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// EventKind identifies a timeline notification.
type EventKind int

const (
	// ObjectPushed is emitted after an object has been inserted.
	ObjectPushed EventKind = iota + 1
	// ObjectRemoved is emitted after an object has been erased or evicted.
	ObjectRemoved
	// Cleared is emitted once per ClearTimeline call.
	Cleared
)

func (k EventKind) String() string {
	switch k {
	case ObjectPushed:
		return "pushed"
	case ObjectRemoved:
		return "removed"
	case Cleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// ParseEventKind parses the String form of an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToLower(s) {
	case "pushed":
		return ObjectPushed, nil
	case "removed":
		return ObjectRemoved, nil
	case "cleared":
		return Cleared, nil
	default:
		return 0, fmt.Errorf("unknown event kind: %q", s)
	}
}

// Event is a notification published by a TimeLine.
type Event struct {
	Kind      EventKind
	Timeline  string
	Timestamp Timestamp
	// Size is the byte length of the pushed object. Zero for other kinds.
	Size int
	// Evicted marks removals caused by the capacity bound.
	Evicted bool
}

// Sink receives timeline events. Emit may be called from any goroutine but
// never while the timeline lock is held, and never concurrently for the
// same timeline. Implementations should return quickly; slow observers
// belong behind an asynchronous dispatcher.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) {
	f(e)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

// Emit forwards e to every sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// emitter queues events in commit order and delivers them outside the
// timeline lock. Only one goroutine drains at a time; events queued while it
// drains (including ones queued by a re-entrant sink) are delivered by it.
type emitter struct {
	mu       sync.Mutex
	pending  []Event
	draining bool
	sink     Sink
	logger   *zap.Logger
}

func newEmitter(sink Sink, logger *zap.Logger) *emitter {
	if sink == nil {
		sink = nopSink{}
	}
	return &emitter{sink: sink, logger: logger}
}

// enqueue must be called with the timeline write lock held.
func (e *emitter) enqueue(events ...Event) {
	if len(events) == 0 {
		return
	}
	e.mu.Lock()
	e.pending = append(e.pending, events...)
	e.mu.Unlock()
}

// flush must be called without the timeline lock held.
func (e *emitter) flush() {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.pending) > 0 {
		batch := e.pending
		e.pending = nil
		e.mu.Unlock()
		for _, ev := range batch {
			e.emit(ev)
		}
		e.mu.Lock()
	}
	e.draining = false
	e.mu.Unlock()
}

func (e *emitter) emit(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("timeline sink panicked",
				zap.String("timeline", ev.Timeline),
				zap.Stringer("kind", ev.Kind),
				zap.Float64("timestamp", float64(ev.Timestamp)),
				zap.Any("panic", r),
			)
		}
	}()
	e.sink.Emit(ev)
}
