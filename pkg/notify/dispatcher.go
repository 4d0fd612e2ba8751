// Package notify delivers timeline events to observers asynchronously.
//
// A Dispatcher is a timeline.Sink. Every subscription owns a buffered queue
// and a worker goroutine, so a slow observer never delays the producer that
// pushed into the timeline. When a queue is full the event is dropped
// (DropNew, the default) or the emitter waits for room (Block).
//
//	d := notify.New(notify.WithLogger(logger))
//	defer d.Close()
//	tl := timeline.New("video", timeline.WithSink(d))
//	d.Subscribe(func(e timeline.Event) { render(tl, e.Timestamp) },
//	    notify.WithKinds(timeline.ObjectPushed))
package notify

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/pkg/timeline"
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with an unknown id.
	ErrSubscriberNotFound = errors.New("subscriber id not found")

	// ErrDispatcherClosed is returned when operations are attempted after Close.
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

// DefaultQueueSize is the per-subscription queue length.
const DefaultQueueSize = 64

// Handler processes one event on the subscription's worker goroutine.
type Handler func(timeline.Event)

// OverflowPolicy decides what Emit does when a subscription queue is full.
type OverflowPolicy int

const (
	// DropNew discards the incoming event.
	DropNew OverflowPolicy = iota
	// Block waits until the subscription has room or is removed.
	Block
)

func (p OverflowPolicy) String() string {
	if p == Block {
		return "block"
	}
	return "drop"
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	TotalEmitted   uint64
	TotalSent      uint64
	TotalDropped   uint64
	TotalDelivered uint64
	Subscribers    map[string]SubscriberStats
}

// SubscriberStats tracks a single subscription.
type SubscriberStats struct {
	// Sent counts events queued for the subscriber.
	Sent uint64
	// Dropped counts events discarded because the queue was full.
	Dropped uint64
	// Delivered counts events the handler has returned from.
	Delivered uint64
	// Pending is the current queue length.
	Pending int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher fans timeline events out to subscriptions.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool
	logger *zap.Logger

	emitted atomic.Uint64
}

var _ timeline.Sink = (*Dispatcher)(nil)

// New creates a Dispatcher with no subscriptions.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		subs:   make(map[string]*subscription),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe starts a worker that calls h for every matching event and
// returns the subscription id.
func (d *Dispatcher) Subscribe(h Handler, opts ...SubscribeOption) (string, error) {
	if h == nil {
		return "", errors.New("handler cannot be nil")
	}
	cfg := subscribeConfig{
		queueSize: DefaultQueueSize,
		policy:    DropNew,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", ErrDispatcherClosed
	}
	if _, exists := d.subs[cfg.id]; exists {
		return "", ErrSubscriberExists
	}

	sub := newSubscription(cfg, h, d.logger.With(zap.String("subscriber", cfg.id)))
	d.subs[cfg.id] = sub
	go sub.run()

	d.logger.Debug("subscriber added",
		zap.String("subscriber", cfg.id),
		zap.Int("queue_size", cfg.queueSize),
		zap.Stringer("policy", cfg.policy),
	)
	return cfg.id, nil
}

// Unsubscribe removes a subscription. Events already queued are still
// delivered; Unsubscribe returns once the worker has finished.
func (d *Dispatcher) Unsubscribe(id string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	sub, exists := d.subs[id]
	if !exists {
		d.mu.Unlock()
		return ErrSubscriberNotFound
	}
	delete(d.subs, id)
	d.mu.Unlock()

	sub.stop()
	return nil
}

// Emit queues e for every subscription whose filter accepts it.
func (d *Dispatcher) Emit(e timeline.Event) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return
	}
	targets := make([]*subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		if sub.accepts(e) {
			targets = append(targets, sub)
		}
	}
	d.mu.RUnlock()

	d.emitted.Add(1)
	for _, sub := range targets {
		sub.offer(e)
	}
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{
		TotalEmitted: d.emitted.Load(),
		Subscribers:  make(map[string]SubscriberStats, len(d.subs)),
	}
	for id, sub := range d.subs {
		ss := sub.stats()
		s.Subscribers[id] = ss
		s.TotalSent += ss.Sent
		s.TotalDropped += ss.Dropped
		s.TotalDelivered += ss.Delivered
	}
	return s
}

// Close stops every worker after its queue has drained. Later Emit calls
// are ignored.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	subs := d.subs
	d.subs = make(map[string]*subscription)
	d.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	d.logger.Debug("dispatcher closed", zap.Int("subscribers", len(subs)))
	return nil
}
