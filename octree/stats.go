package octree

// Stats is a point-in-time snapshot of the engine.
type Stats struct {
	// InsertedPoints counts points accepted by Insert since the engine
	// started; DroppedPoints counts points discarded at max depth, plus
	// points of failed tasks that never reached their node.
	InsertedPoints int64
	DroppedPoints  int64
	// BacklogTasks and BacklogPoints describe the pending insertion
	// queue.
	BacklogTasks  int
	BacklogPoints int
	// NrNodes is the total number of nodes; NodesPerLOD breaks it down
	// by level, indexed by LOD.
	NrNodes     int
	NodesPerLOD []int
	// CacheHits, CacheMisses and CachedPages describe the page cache.
	CacheHits   int64
	CacheMisses int64
	CachedPages int
	// IndexedCells is the number of nodes tracked by the attribute
	// index.
	IndexedCells int
}

// Stats returns a snapshot of the engine's counters. It is safe to call
// concurrently with insertion and queries.
func (e *Engine) Stats() Stats {
	tasks, points := e.sched.backlog()
	hits, misses := e.cache.Stats()
	return Stats{
		InsertedPoints: e.inserted.Load(),
		DroppedPoints:  e.dropped.Load(),
		BacklogTasks:   tasks,
		BacklogPoints:  points,
		NrNodes:        e.dir.Len(),
		NodesPerLOD:    e.dir.CountPerLOD(),
		CacheHits:      hits,
		CacheMisses:    misses,
		CachedPages:    e.cache.Len(),
		IndexedCells:   e.attr.Len(),
	}
}
