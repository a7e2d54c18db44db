// Package metrics defines the collector interface the index reports its
// operational numbers to, plus ready-made implementations: a no-op, an
// in-memory aggregator, a CBOR time-series recorder for offline analysis,
// and a Prometheus bridge.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector receives operational metrics from the index. Implementations
// must be safe for concurrent use and must not block: collectors are
// called from insertion workers and query paths.
type Collector interface {
	// RecordInsert is called after a batch of points was accepted into
	// the insertion backlog.
	RecordInsert(count int, duration time.Duration)

	// RecordBacklog is sampled periodically with the current number of
	// pending insertion tasks and the points queued in them.
	RecordBacklog(tasks, points int)

	// RecordDropped is called when points are discarded because a node
	// at the maximum depth overflowed.
	RecordDropped(count int)

	// RecordQuery is called after each query execution. nodes is the
	// number of nodes visited, points the number of points returned.
	RecordQuery(duration time.Duration, nodes, points int, err error)

	// RecordFlush is called after each flush of dirty state to disk.
	RecordFlush(duration time.Duration, err error)
}

// NoopCollector discards all metrics.
type NoopCollector struct{}

func (NoopCollector) RecordInsert(int, time.Duration)            {}
func (NoopCollector) RecordBacklog(int, int)                     {}
func (NoopCollector) RecordDropped(int)                          {}
func (NoopCollector) RecordQuery(time.Duration, int, int, error) {}
func (NoopCollector) RecordFlush(time.Duration, error)           {}

// BasicCollector aggregates metrics in memory. Useful for tests and for
// embedding without an external monitoring system.
type BasicCollector struct {
	InsertCount      atomic.Int64
	InsertPoints     atomic.Int64
	InsertTotalNanos atomic.Int64
	BacklogTasks     atomic.Int64
	BacklogPoints    atomic.Int64
	DroppedPoints    atomic.Int64
	QueryCount       atomic.Int64
	QueryErrors      atomic.Int64
	QueryTotalNanos  atomic.Int64
	QueryNodes       atomic.Int64
	QueryPoints      atomic.Int64
	FlushCount       atomic.Int64
	FlushErrors      atomic.Int64
}

// RecordInsert implements Collector.
func (b *BasicCollector) RecordInsert(count int, duration time.Duration) {
	b.InsertCount.Add(1)
	b.InsertPoints.Add(int64(count))
	b.InsertTotalNanos.Add(duration.Nanoseconds())
}

// RecordBacklog implements Collector.
func (b *BasicCollector) RecordBacklog(tasks, points int) {
	b.BacklogTasks.Store(int64(tasks))
	b.BacklogPoints.Store(int64(points))
}

// RecordDropped implements Collector.
func (b *BasicCollector) RecordDropped(count int) {
	b.DroppedPoints.Add(int64(count))
}

// RecordQuery implements Collector.
func (b *BasicCollector) RecordQuery(duration time.Duration, nodes, points int, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	b.QueryNodes.Add(int64(nodes))
	b.QueryPoints.Add(int64(points))
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordFlush implements Collector.
func (b *BasicCollector) RecordFlush(duration time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

type multiCollector []Collector

// Multi fans every metric out to all given collectors.
func Multi(collectors ...Collector) Collector {
	return multiCollector(collectors)
}

func (m multiCollector) RecordInsert(count int, duration time.Duration) {
	for _, c := range m {
		c.RecordInsert(count, duration)
	}
}

func (m multiCollector) RecordBacklog(tasks, points int) {
	for _, c := range m {
		c.RecordBacklog(tasks, points)
	}
}

func (m multiCollector) RecordDropped(count int) {
	for _, c := range m {
		c.RecordDropped(count)
	}
}

func (m multiCollector) RecordQuery(duration time.Duration, nodes, points int, err error) {
	for _, c := range m {
		c.RecordQuery(duration, nodes, points, err)
	}
}

func (m multiCollector) RecordFlush(duration time.Duration, err error) {
	for _, c := range m {
		c.RecordFlush(duration, err)
	}
}
