package octree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pointlake/pointlake/attrindex"
	"github.com/pointlake/pointlake/cache"
	"github.com/pointlake/pointlake/geom"
	"github.com/pointlake/pointlake/metrics"
	"github.com/pointlake/pointlake/model"
	"github.com/pointlake/pointlake/store"
)

// ErrClosed is returned by operations on an engine after Close.
var ErrClosed = errors.New("octree: engine closed")

// Params configures the engine. Zero values are replaced by defaults in
// New.
type Params struct {
	// Grid defines the spatial layout of the octree.
	Grid geom.GridHierarchy
	// PointsPerNode is the number of points a node retains directly.
	// Points beyond it go to the bogus buffer and eventually to children.
	PointsPerNode int
	// MaxLOD caps the tree depth. Nodes at MaxLOD never split; their
	// bogus overflow beyond MaxBogusLeaf is dropped and counted.
	MaxLOD model.LOD
	// MaxBogusInner and MaxBogusLeaf bound the bogus buffer of nodes
	// with and without existing children.
	MaxBogusInner int
	MaxBogusLeaf  int
	// NumWorkers is the size of the insertion worker pool.
	NumWorkers int
	// MaxBacklog bounds the queued points before InsertWithContext
	// blocks. 0 disables backpressure.
	MaxBacklog int
	// Priority ranks pending insertion tasks. Defaults to NrPoints.
	Priority PriorityFunction
	// GenerationTick is the coarse clock behind the age-based priority
	// functions and backlog sampling.
	GenerationTick time.Duration
	// FlushRetries is the number of times a failing flush is retried
	// with backoff before the error is returned.
	FlushRetries int
}

func (p *Params) applyDefaults() {
	if p.PointsPerNode <= 0 {
		p.PointsPerNode = 50_000
	}
	if p.MaxBogusInner <= 0 {
		p.MaxBogusInner = 20_000
	}
	if p.MaxBogusLeaf <= 0 {
		p.MaxBogusLeaf = 80_000
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 4
	}
	if p.Priority == nil {
		p.Priority = nrPointsPriority{}
	}
	if p.GenerationTick <= 0 {
		p.GenerationTick = 100 * time.Millisecond
	}
	if p.FlushRetries < 0 {
		p.FlushRetries = 0
	}
}

// Engine is the octree index: one instance owns the pages, the directory,
// the attribute index and the insertion pipeline of a single data
// directory.
type Engine struct {
	params    Params
	cache     *cache.PageCache
	dir       *store.Directory
	attr      *attrindex.AttributeIndex
	logger    *slog.Logger
	collector metrics.Collector

	sched      *scheduler
	wg         sync.WaitGroup
	tickerStop chan struct{}
	tickerDone chan struct{}

	closed   atomic.Bool
	inserted atomic.Int64
	dropped  atomic.Int64

	flushMu sync.Mutex
}

// New assembles an engine over an opened cache, directory and attribute
// index and starts the insertion workers. A nil logger discards log
// output, a nil collector discards metrics.
func New(c *cache.PageCache, dir *store.Directory, attr *attrindex.AttributeIndex, params Params, logger *slog.Logger, collector metrics.Collector) *Engine {
	params.applyDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if collector == nil {
		collector = metrics.NoopCollector{}
	}
	e := &Engine{
		params:     params,
		cache:      c,
		dir:        dir,
		attr:       attr,
		logger:     logger,
		collector:  collector,
		sched:      newScheduler(params.Priority, params.MaxBacklog),
		tickerStop: make(chan struct{}),
		tickerDone: make(chan struct{}),
	}
	for i := 0; i < params.NumWorkers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	go e.tick()
	e.logger.Info("octree engine started",
		"workers", params.NumWorkers,
		"points_per_node", params.PointsPerNode,
		"max_lod", params.MaxLOD.String(),
		"priority", params.Priority.String(),
	)
	return e
}

// Insert queues points for insertion without backpressure. The points are
// visible to queries once their tasks have been processed and, for
// readers of the on-disk state, once a flush has run.
func (e *Engine) Insert(points []model.Point) error {
	return e.InsertWithContext(context.Background(), points)
}

// InsertWithContext queues points for insertion, blocking while the
// backlog is above the configured bound.
func (e *Engine) InsertWithContext(ctx context.Context, points []model.Point) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(points) == 0 {
		return nil
	}
	start := time.Now()

	// Partition by root cell. Order within a batch is preserved per cell.
	byCell := make(map[model.CellID][]model.Point)
	for _, p := range points {
		cell := e.params.Grid.CellAt(0, p.Position)
		byCell[cell] = append(byCell[cell], p)
	}
	for cell, pts := range byCell {
		if err := e.sched.pushWait(ctx, cell, pts); err != nil {
			return err
		}
	}
	e.inserted.Add(int64(len(points)))
	e.collector.RecordInsert(len(points), time.Since(start))
	return nil
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		t, ok := e.sched.next()
		if !ok {
			return
		}
		if lost, err := e.processTask(t); err != nil {
			e.logger.Error("insertion task failed",
				"cell", t.cell.String(),
				"points", len(t.points),
				"lost", lost,
				"error", err,
			)
			if lost > 0 {
				e.dropped.Add(int64(lost))
				e.collector.RecordDropped(lost)
			}
		}
		e.sched.done(t.cell)
	}
}

// processTask applies one inbox to its node: fill the node up to capacity,
// buffer the rest as bogus, and split the bogus buffer into child inboxes
// when it outgrows its bound. The returned count is the number of task
// points that never reached the node and are lost when err is non-nil.
func (e *Engine) processTask(t *task) (int, error) {
	ordinal, created := e.dir.Add(t.cell)
	if created {
		e.logger.Debug("node created", "cell", t.cell.String())
	}

	// The attribute index covers every point that passed through this
	// node, including points later promoted to children. That keeps node
	// pruning valid for whole subtrees at the cost of slightly wider
	// per-node bounds. The accelerators are widened before the page
	// mutation becomes visible: an accelerated reader must never prune a
	// node whose page already holds matching points.
	if err := e.attr.Update(t.cell, ordinal, t.points); err != nil {
		return len(t.points), fmt.Errorf("update attribute index for %s: %w", t.cell, err)
	}

	center := e.params.Grid.CellBounds(t.cell).Center()
	isLeaf := e.dir.IsLeaf(t.cell)
	var overflow [8][]model.Point
	var droppedHere int

	err := e.cache.Update(t.cell, func(n *store.Node) error {
		pts := t.points
		if free := e.params.PointsPerNode - len(n.Points); free > 0 {
			take := free
			if take > len(pts) {
				take = len(pts)
			}
			n.Points = append(n.Points, pts[:take]...)
			pts = pts[take:]
		}
		n.Bogus = append(n.Bogus, pts...)

		threshold := e.params.MaxBogusInner
		if isLeaf {
			threshold = e.params.MaxBogusLeaf
		}
		if len(n.Bogus) <= threshold {
			return nil
		}
		if t.cell.LOD >= e.params.MaxLOD {
			droppedHere = len(n.Bogus) - threshold
			n.Bogus = n.Bogus[:threshold]
			return nil
		}
		for _, p := range n.Bogus {
			i := geom.ChildIndex(center, p.Position)
			overflow[i] = append(overflow[i], p)
		}
		n.Bogus = nil
		return nil
	})
	if err != nil {
		return len(t.points), fmt.Errorf("apply task to node %s: %w", t.cell, err)
	}

	if droppedHere > 0 {
		e.dropped.Add(int64(droppedHere))
		e.collector.RecordDropped(droppedHere)
		e.logger.Warn("node at max depth overflowed, dropping points",
			"cell", t.cell.String(),
			"dropped", droppedHere,
		)
	}

	children := e.params.Grid.Children(t.cell)
	for i, pts := range overflow {
		e.sched.push(children[i], pts)
	}

	// Past this point the task's points are on the page (or queued for
	// children); a failing cleanup loses nothing.
	return 0, e.cache.Cleanup()
}

// tick advances the scheduler generation on a fixed cadence and samples
// the backlog for metrics.
func (e *Engine) tick() {
	defer close(e.tickerDone)
	ticker := time.NewTicker(e.params.GenerationTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tasks, points := e.sched.advanceGen()
			e.collector.RecordBacklog(tasks, points)
		case <-e.tickerStop:
			return
		}
	}
}

// Flush waits for the insertion backlog to drain, then persists all dirty
// state: pages, the cell directory and the attribute index. A failing
// flush is retried with backoff up to the configured number of retries.
func (e *Engine) Flush(ctx context.Context) error {
	if err := e.sched.waitDrained(ctx); err != nil {
		return fmt.Errorf("drain backlog: %w", err)
	}
	return e.persist(ctx)
}

func (e *Engine) persist(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	start := time.Now()
	backoff := 50 * time.Millisecond
	var err error
	for attempt := 0; ; attempt++ {
		err = e.persistOnce()
		if err == nil {
			break
		}
		if attempt >= e.params.FlushRetries {
			break
		}
		e.logger.Warn("flush failed, retrying",
			"attempt", attempt+1,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			e.collector.RecordFlush(time.Since(start), ctx.Err())
			return ctx.Err()
		}
		backoff *= 2
	}
	e.collector.RecordFlush(time.Since(start), err)
	if err != nil {
		return err
	}
	e.logger.Debug("flush completed", "duration", time.Since(start).String())
	return nil
}

func (e *Engine) persistOnce() error {
	if err := e.cache.Flush(); err != nil {
		return fmt.Errorf("flush pages: %w", err)
	}
	if err := e.dir.FlushIfDirty(); err != nil {
		return fmt.Errorf("flush directory: %w", err)
	}
	if err := e.attr.FlushIfDirty(); err != nil {
		return fmt.Errorf("flush attribute index: %w", err)
	}
	return nil
}

// Close drains the backlog, stops the workers and persists all state.
// Close is idempotent; operations after Close return ErrClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	drainErr := e.sched.waitDrained(context.Background())
	e.sched.close()
	e.wg.Wait()
	close(e.tickerStop)
	<-e.tickerDone

	if err := e.persist(context.Background()); err != nil {
		return err
	}
	e.logger.Info("octree engine closed",
		"inserted", e.inserted.Load(),
		"dropped", e.dropped.Load(),
		"nodes", e.dir.Len(),
	)
	return drainErr
}
