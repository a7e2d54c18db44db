package octree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/pointlake/pointlake/attrindex"
	"github.com/pointlake/pointlake/model"
	"github.com/pointlake/pointlake/query"
	"github.com/pointlake/pointlake/store"
)

// ExecOptions tunes a single query execution.
type ExecOptions struct {
	// Acceleration limits which attribute accelerators this query may
	// use. It is intersected with the index's configured mode; the
	// default ModeNone disables attribute pruning for the query, so
	// callers wanting full acceleration pass attrindex.ModeAll.
	Acceleration attrindex.Mode
	// PointFilter enables the exact per-point check on loaded pages.
	// Without it the query returns every point of every matching node.
	PointFilter bool
	// Filter, when set, additionally narrows the visited nodes through
	// the global bin posting lists before the per-node checks run. It
	// should mirror the attribute constraints of the query itself.
	Filter *attrindex.Bounds
}

// Result is the outcome of a query execution.
type Result struct {
	Points []model.Point
	// NrNodes is the number of nodes that matched the node-level query
	// and were visited. NrNonEmptyNodes counts those that contributed at
	// least one point.
	NrNodes         int
	NrNonEmptyNodes int
	QueryTime       time.Duration
	// LatencyByLOD records, per level, the time from query start until
	// the level was fully processed.
	LatencyByLOD map[model.LOD]time.Duration
	// Partial is set when the context ended before the traversal did;
	// Points then holds everything collected up to that moment.
	Partial bool
}

// LODBatch is one level's worth of results on a streaming query.
type LODBatch struct {
	LOD    model.LOD
	Points []model.Point
	Err    error
}

// Execute runs the query against the current state of the index. It is
// safe to call concurrently with insertion; the result reflects every
// point that reached a page before the traversal visited it.
//
// When ctx carries a deadline and it expires mid-traversal, Execute
// returns the points collected so far with Result.Partial set instead of
// an error.
func (e *Engine) Execute(ctx context.Context, q query.Query, opts ExecOptions) (*Result, error) {
	start := time.Now()
	res := &Result{LatencyByLOD: make(map[model.LOD]time.Duration)}

	err := e.traverse(ctx, q, opts, func(lod model.LOD, pts []model.Point) {
		res.Points = append(res.Points, pts...)
		if len(pts) > 0 {
			res.NrNonEmptyNodes++
		}
		res.NrNodes++
	}, func(lod model.LOD) {
		res.LatencyByLOD[lod] = time.Since(start)
	})
	res.QueryTime = time.Since(start)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		res.Partial = true
		err = nil
	}
	e.collector.RecordQuery(res.QueryTime, res.NrNodes, len(res.Points), err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ExecuteStream runs the query and delivers results level by level on the
// returned channel, coarsest first. The channel is closed when the
// traversal finishes; a traversal error arrives as the final batch's Err.
func (e *Engine) ExecuteStream(ctx context.Context, q query.Query, opts ExecOptions) <-chan LODBatch {
	out := make(chan LODBatch)
	go func() {
		defer close(out)
		var (
			cur    model.LOD
			points []model.Point
		)
		flush := func(lod model.LOD) bool {
			select {
			case out <- LODBatch{LOD: lod, Points: points}:
				points = nil
				return true
			case <-ctx.Done():
				return false
			}
		}
		err := e.traverse(ctx, q, opts, func(lod model.LOD, pts []model.Point) {
			cur = lod
			points = append(points, pts...)
		}, func(lod model.LOD) {
			if !flush(lod) {
				return
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			select {
			case out <- LODBatch{LOD: cur, Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// traverse walks the octree breadth first, pruning subtrees at the node
// level and invoking visit for every matching node and levelDone after
// each completed level.
func (e *Engine) traverse(
	ctx context.Context,
	q query.Query,
	opts ExecOptions,
	visit func(lod model.LOD, pts []model.Point),
	levelDone func(lod model.LOD),
) error {
	effective := e.attr.Mode().Combine(opts.Acceleration)
	candidates, narrowed := e.attr.CandidateNodes(opts.Filter, effective)

	frontier := e.dir.RootCells()
	var lod model.LOD
	for len(frontier) > 0 {
		var next []model.CellID
		for _, cell := range frontier {
			if err := ctx.Err(); err != nil {
				return err
			}
			nodeCtx := &query.NodeContext{
				Cell:   cell,
				Bounds: e.params.Grid.CellBounds(cell),
				Index:  e.attr,
				Mode:   effective,
			}
			if !q.MatchesNode(nodeCtx) {
				continue
			}
			if !e.candidateAllowsSubtree(candidates, narrowed, cell) {
				continue
			}

			pts, err := e.readMatching(cell, q, nodeCtx, opts.PointFilter)
			if err != nil {
				return err
			}
			visit(lod, pts)

			for _, child := range e.params.Grid.Children(cell) {
				if e.dir.Exists(child) {
					next = append(next, child)
				}
			}
		}
		levelDone(lod)
		frontier = next
		lod++
	}
	return nil
}

// candidateAllowsSubtree applies the posting-list candidate set. A parent
// node's postings cover every point that ever passed through it, so a cell
// outside the candidate set can only root a subtree of non-candidates and
// the whole subtree is skipped.
func (e *Engine) candidateAllowsSubtree(candidates *roaring.Bitmap, narrowed bool, cell model.CellID) bool {
	if !narrowed {
		return true
	}
	ordinal, ok := e.dir.Ordinal(cell)
	if !ok {
		return true
	}
	return candidates.Contains(ordinal)
}

// readMatching loads the node's page and returns its matching points. A
// cell recorded in the directory whose page has not been written yet reads
// as empty.
func (e *Engine) readMatching(cell model.CellID, q query.Query, nodeCtx *query.NodeContext, pointFilter bool) ([]model.Point, error) {
	var out []model.Point
	err := e.cache.Read(cell, func(n *store.Node) error {
		out = appendMatching(out, n.Points, q, nodeCtx, pointFilter)
		out = appendMatching(out, n.Bogus, q, nodeCtx, pointFilter)
		return nil
	})
	if errors.Is(err, store.ErrNodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read node %s: %w", cell, err)
	}
	return out, nil
}

func appendMatching(dst []model.Point, src []model.Point, q query.Query, nodeCtx *query.NodeContext, pointFilter bool) []model.Point {
	if !pointFilter {
		return append(dst, src...)
	}
	for i := range src {
		if q.MatchesPoint(&src[i], nodeCtx) {
			dst = append(dst, src[i])
		}
	}
	return dst
}
