package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/kaftimeline/internal/registry"
	"github.com/jittakal/kaftimeline/pkg/notify"
	"github.com/jittakal/kaftimeline/pkg/timeline"
)

// Sink returns a timeline.Sink that counts notifications.
func (m *Metrics) Sink() timeline.Sink {
	return timeline.SinkFunc(func(e timeline.Event) {
		m.TimelineEvents.WithLabelValues(e.Timeline, e.Kind.String()).Inc()
		if e.Evicted {
			m.TimelineEvictions.WithLabelValues(e.Timeline).Inc()
		}
	})
}

// TimelineCollector reports timeline occupancy read from a registry at
// scrape time.
type TimelineCollector struct {
	registry *registry.Registry
	length   *prometheus.Desc
	capacity *prometheus.Desc
	newest   *prometheus.Desc
}

// NewTimelineCollector creates a collector over r.
func NewTimelineCollector(r *registry.Registry) *TimelineCollector {
	return &TimelineCollector{
		registry: r,
		length: prometheus.NewDesc(
			"timeline_entries",
			"Current number of entries stored in a timeline",
			[]string{"timeline", "kind"}, nil,
		),
		capacity: prometheus.NewDesc(
			"timeline_max_elements",
			"Configured capacity of a timeline, zero when unbounded",
			[]string{"timeline"}, nil,
		),
		newest: prometheus.NewDesc(
			"timeline_newest_timestamp_milliseconds",
			"Timestamp of the newest entry in a timeline",
			[]string{"timeline"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *TimelineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.length
	ch <- c.capacity
	ch <- c.newest
}

// Collect implements prometheus.Collector.
func (c *TimelineCollector) Collect(ch chan<- prometheus.Metric) {
	for _, info := range c.registry.Info() {
		ch <- prometheus.MustNewConstMetric(c.length, prometheus.GaugeValue, float64(info.Len), info.Name, info.Kind)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(info.MaxElements), info.Name)
		if info.Newest != nil {
			ch <- prometheus.MustNewConstMetric(c.newest, prometheus.GaugeValue, *info.Newest, info.Name)
		}
	}
}

// DispatcherCollector reports per-subscriber notification counters read
// from a notify.Dispatcher at scrape time.
type DispatcherCollector struct {
	dispatcher *notify.Dispatcher
	sent       *prometheus.Desc
	dropped    *prometheus.Desc
	delivered  *prometheus.Desc
	pending    *prometheus.Desc
}

// NewDispatcherCollector creates a collector over d.
func NewDispatcherCollector(d *notify.Dispatcher) *DispatcherCollector {
	labels := []string{"subscriber"}
	return &DispatcherCollector{
		dispatcher: d,
		sent: prometheus.NewDesc(
			"notify_events_queued_total",
			"Total number of notifications queued for a subscriber",
			labels, nil,
		),
		dropped: prometheus.NewDesc(
			"notify_events_dropped_total",
			"Total number of notifications dropped because a subscriber queue was full",
			labels, nil,
		),
		delivered: prometheus.NewDesc(
			"notify_events_delivered_total",
			"Total number of notifications handled by a subscriber",
			labels, nil,
		),
		pending: prometheus.NewDesc(
			"notify_queue_length",
			"Current number of notifications waiting in a subscriber queue",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *DispatcherCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sent
	ch <- c.dropped
	ch <- c.delivered
	ch <- c.pending
}

// Collect implements prometheus.Collector.
func (c *DispatcherCollector) Collect(ch chan<- prometheus.Metric) {
	for id, s := range c.dispatcher.Stats().Subscribers {
		ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(s.Sent), id)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped), id)
		ch <- prometheus.MustNewConstMetric(c.delivered, prometheus.CounterValue, float64(s.Delivered), id)
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending), id)
	}
}
