package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exposes index metrics through a Prometheus
// registerer.
type PrometheusCollector struct {
	insertPoints  prometheus.Counter
	droppedPoints prometheus.Counter
	backlogTasks  prometheus.Gauge
	backlogPoints prometheus.Gauge
	queryDuration prometheus.Histogram
	queryErrors   prometheus.Counter
	flushDuration prometheus.Histogram
	flushErrors   prometheus.Counter
}

// NewPrometheusCollector registers the index metrics with reg and returns
// the collector. Pass prometheus.DefaultRegisterer to use the default
// registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		insertPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pointlake",
			Name:      "points_inserted_total",
			Help:      "Points accepted into the insertion backlog.",
		}),
		droppedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pointlake",
			Name:      "points_dropped_total",
			Help:      "Points discarded due to overflow at the maximum depth.",
		}),
		backlogTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pointlake",
			Name:      "backlog_tasks",
			Help:      "Pending insertion tasks.",
		}),
		backlogPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pointlake",
			Name:      "backlog_points",
			Help:      "Points queued in pending insertion tasks.",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pointlake",
			Name:      "query_duration_seconds",
			Help:      "Query execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		queryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pointlake",
			Name:      "query_errors_total",
			Help:      "Queries that returned an error.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pointlake",
			Name:      "flush_duration_seconds",
			Help:      "Flush time for dirty pages and index files.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		flushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pointlake",
			Name:      "flush_errors_total",
			Help:      "Flushes that returned an error.",
		}),
	}
	reg.MustRegister(
		c.insertPoints, c.droppedPoints,
		c.backlogTasks, c.backlogPoints,
		c.queryDuration, c.queryErrors,
		c.flushDuration, c.flushErrors,
	)
	return c
}

// RecordInsert implements Collector.
func (c *PrometheusCollector) RecordInsert(count int, _ time.Duration) {
	c.insertPoints.Add(float64(count))
}

// RecordBacklog implements Collector.
func (c *PrometheusCollector) RecordBacklog(tasks, points int) {
	c.backlogTasks.Set(float64(tasks))
	c.backlogPoints.Set(float64(points))
}

// RecordDropped implements Collector.
func (c *PrometheusCollector) RecordDropped(count int) {
	c.droppedPoints.Add(float64(count))
}

// RecordQuery implements Collector.
func (c *PrometheusCollector) RecordQuery(duration time.Duration, _, _ int, err error) {
	c.queryDuration.Observe(duration.Seconds())
	if err != nil {
		c.queryErrors.Inc()
	}
}

// RecordFlush implements Collector.
func (c *PrometheusCollector) RecordFlush(duration time.Duration, err error) {
	c.flushDuration.Observe(duration.Seconds())
	if err != nil {
		c.flushErrors.Inc()
	}
}
