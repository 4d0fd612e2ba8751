package notify

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/pkg/timeline"
)

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	id        string
	queueSize int
	policy    OverflowPolicy
	kinds     map[timeline.EventKind]bool
	timelines map[string]bool
}

// WithID sets the subscription id instead of a generated UUID.
func WithID(id string) SubscribeOption {
	return func(c *subscribeConfig) {
		c.id = id
	}
}

// WithQueueSize sets the queue length. Values below 1 are raised to 1.
func WithQueueSize(n int) SubscribeOption {
	return func(c *subscribeConfig) {
		if n < 1 {
			n = 1
		}
		c.queueSize = n
	}
}

// WithPolicy sets the overflow policy.
func WithPolicy(p OverflowPolicy) SubscribeOption {
	return func(c *subscribeConfig) {
		c.policy = p
	}
}

// WithKinds restricts the subscription to the given event kinds.
func WithKinds(kinds ...timeline.EventKind) SubscribeOption {
	return func(c *subscribeConfig) {
		if c.kinds == nil {
			c.kinds = make(map[timeline.EventKind]bool, len(kinds))
		}
		for _, k := range kinds {
			c.kinds[k] = true
		}
	}
}

// WithTimelines restricts the subscription to events from the named timelines.
func WithTimelines(names ...string) SubscribeOption {
	return func(c *subscribeConfig) {
		if c.timelines == nil {
			c.timelines = make(map[string]bool, len(names))
		}
		for _, n := range names {
			c.timelines[n] = true
		}
	}
}

type subscription struct {
	cfg     subscribeConfig
	handler Handler
	logger  *zap.Logger
	queue   chan timeline.Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// mu orders offers against stop: once closed is set under the write
	// lock no offer can reach the queue.
	mu     sync.RWMutex
	closed bool

	sent      atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

func newSubscription(cfg subscribeConfig, h Handler, logger *zap.Logger) *subscription {
	return &subscription{
		cfg:     cfg,
		handler: h,
		logger:  logger,
		queue:   make(chan timeline.Event, cfg.queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (s *subscription) accepts(e timeline.Event) bool {
	if s.cfg.kinds != nil && !s.cfg.kinds[e.Kind] {
		return false
	}
	if s.cfg.timelines != nil && !s.cfg.timelines[e.Timeline] {
		return false
	}
	return true
}

func (s *subscription) offer(e timeline.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}

	if s.cfg.policy == Block {
		select {
		case s.queue <- e:
			s.sent.Add(1)
		case <-s.done:
			s.dropped.Add(1)
		}
		return
	}

	select {
	case s.queue <- e:
		s.sent.Add(1)
	default:
		s.dropped.Add(1)
	}
}

func (s *subscription) run() {
	defer close(s.stopped)
	for {
		select {
		case e := <-s.queue:
			s.deliver(e)
		case <-s.done:
			for {
				select {
				case e := <-s.queue:
					s.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (s *subscription) deliver(e timeline.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber handler panicked",
				zap.String("timeline", e.Timeline),
				zap.Stringer("kind", e.Kind),
				zap.Any("panic", r),
			)
		}
		s.delivered.Add(1)
	}()
	s.handler(e)
}

// stop ends the worker. Events that landed in the queue after the worker's
// final drain are delivered here, so every event counted as sent is
// delivered.
func (s *subscription) stop() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
	<-s.stopped
	for {
		select {
		case e := <-s.queue:
			s.deliver(e)
		default:
			return
		}
	}
}

func (s *subscription) stats() SubscriberStats {
	return SubscriberStats{
		Sent:      s.sent.Load(),
		Dropped:   s.dropped.Load(),
		Delivered: s.delivered.Load(),
		Pending:   len(s.queue),
	}
}
