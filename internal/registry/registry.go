// Package registry holds the named timelines hosted by the daemon.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	apperrors "github.com/jittakal/kaftimeline/internal/errors"
	"github.com/jittakal/kaftimeline/pkg/timeline"
)

// Info describes a hosted timeline.
type Info struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Len         int      `json:"len"`
	MaxElements int      `json:"max_elements"`
	Oldest      *float64 `json:"oldest,omitempty"`
	Newest      *float64 `json:"newest,omitempty"`
}

type entry struct {
	tl  *timeline.TimeLine
	cfg dto.TimelineConfig
}

// Registry creates and looks up timelines by name. Every timeline shares
// the registry's sink and logger.
type Registry struct {
	timelines map[string]*entry
	sink      timeline.Sink
	logger    *zap.Logger
	closed    bool
	mu        sync.RWMutex
}

// New creates an empty registry.
func New(sink timeline.Sink, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		timelines: make(map[string]*entry),
		sink:      sink,
		logger:    logger,
	}
}

// Options converts a timeline declaration into timeline options.
func Options(cfg dto.TimelineConfig) ([]timeline.Option, error) {
	policy, err := timeline.ParseDuplicatePolicy(cfg.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	opts := []timeline.Option{
		timeline.WithMaxElements(cfg.MaxElements),
		timeline.WithDuplicatePolicy(policy),
	}
	if cfg.PoolBuffers {
		opts = append(opts, timeline.WithBufferPool())
	}
	if cfg.MaxBufferSize > 0 {
		opts = append(opts, timeline.WithMaxBufferSize(cfg.MaxBufferSize))
	}
	return opts, nil
}

// GetOrCreate returns the timeline named by cfg, creating it if needed.
// An existing timeline is returned unchanged even if cfg differs.
func (r *Registry) GetOrCreate(cfg dto.TimelineConfig) (*timeline.TimeLine, error) {
	r.mu.RLock()
	e, exists := r.timelines[cfg.Name]
	closed := r.closed
	r.mu.RUnlock()

	if exists {
		return e.tl, nil
	}
	if closed {
		return nil, timeline.ErrClosed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := Options(cfg)
	if err != nil {
		return nil, fmt.Errorf("timeline %s: %w", cfg.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, timeline.ErrClosed
	}
	// Double-check after acquiring write lock
	if e, exists := r.timelines[cfg.Name]; exists {
		return e.tl, nil
	}

	opts = append(opts, timeline.WithLogger(r.logger))
	if r.sink != nil {
		opts = append(opts, timeline.WithSink(r.sink))
	}
	tl := timeline.New(cfg.Name, opts...)
	r.timelines[cfg.Name] = &entry{tl: tl, cfg: cfg}

	r.logger.Info("timeline created",
		zap.String("timeline", cfg.Name),
		zap.String("kind", cfg.Kind),
		zap.Int("max_elements", cfg.MaxElements),
		zap.String("duplicate_policy", cfg.DuplicatePolicy),
	)
	return tl, nil
}

// Get returns a timeline and its declaration.
func (r *Registry) Get(name string) (*timeline.TimeLine, dto.TimelineConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.timelines[name]
	if !exists {
		return nil, dto.TimelineConfig{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownTimeline, name)
	}
	return e.tl, e.cfg, nil
}

// Names returns the timeline names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.timelines))
	for name := range r.timelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns a description of every timeline, sorted by name.
func (r *Registry) Info() []Info {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.timelines))
	for _, e := range r.timelines {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, describe(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Describe returns the description of one timeline.
func (r *Registry) Describe(name string) (Info, error) {
	r.mu.RLock()
	e, exists := r.timelines[name]
	r.mu.RUnlock()

	if !exists {
		return Info{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownTimeline, name)
	}
	return describe(e), nil
}

func describe(e *entry) Info {
	info := Info{
		Name:        e.tl.Name(),
		Kind:        e.cfg.Kind,
		Len:         e.tl.Len(),
		MaxElements: e.tl.MaxElements(),
	}
	if b, err := e.tl.GetOldestObject(); err == nil {
		ts := float64(b.Timestamp())
		info.Oldest = &ts
	}
	if ts, err := e.tl.GetNewerTimestamp(); err == nil {
		v := float64(ts)
		info.Newest = &v
	}
	return info
}

// Sweep erases entries that fell out of each timeline's retention window,
// measured back from the timeline's newest entry, and returns the number of
// entries erased.
func (r *Registry) Sweep() int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.timelines))
	for _, e := range r.timelines {
		if e.cfg.RetentionMS > 0 {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	total := 0
	for _, e := range entries {
		newest, err := e.tl.GetNewerTimestamp()
		if errors.Is(err, timeline.ErrNotFound) {
			continue
		}
		cutoff := newest - timeline.Timestamp(e.cfg.RetentionMS)
		if n := e.tl.EraseBefore(cutoff); n > 0 {
			r.logger.Debug("swept stale entries",
				zap.String("timeline", e.tl.Name()),
				zap.Int("erased", n),
				zap.Float64("cutoff", float64(cutoff)),
			)
			total += n
		}
	}
	return total
}

// Close closes every timeline. Later GetOrCreate calls fail with
// timeline.ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.timelines
	r.mu.Unlock()

	var errs []error
	for name, e := range entries {
		if err := e.tl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
