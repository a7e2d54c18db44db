package octree

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointlake/pointlake/attrindex"
	"github.com/pointlake/pointlake/cache"
	"github.com/pointlake/pointlake/geom"
	"github.com/pointlake/pointlake/model"
	"github.com/pointlake/pointlake/query"
	"github.com/pointlake/pointlake/store"
)

func testParams() Params {
	return Params{
		Grid:           geom.NewGridHierarchy(4), // root cells of edge 16
		PointsPerNode:  500,
		MaxLOD:         6,
		MaxBogusInner:  200,
		MaxBogusLeaf:   400,
		NumWorkers:     2,
		GenerationTick: 10 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, params Params) *Engine {
	t.Helper()
	dir := t.TempDir()
	ps, err := store.NewPageStore(filepath.Join(dir, "pages"), store.EncodingRaw)
	require.NoError(t, err)
	cd, err := store.OpenDirectory(filepath.Join(dir, "directory.bin"))
	require.NoError(t, err)
	ai, err := attrindex.Open(filepath.Join(dir, "attr_index.bin"),
		attrindex.ModeAll, attrindex.DefaultHistogramSettings())
	require.NoError(t, err)
	e := New(cache.New(ps, 64, nil), cd, ai, params, nil, nil)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func uniformPoints(rng *rand.Rand, n int, extent float64) []model.Point {
	points := make([]model.Point, n)
	for i := range points {
		points[i] = model.Point{
			Position: r3.Vector{
				X: rng.Float64() * extent,
				Y: rng.Float64() * extent,
				Z: rng.Float64() * extent,
			},
			Attributes: model.Attributes{
				Intensity:      uint16(rng.Intn(65536)),
				Classification: uint8(rng.Intn(10)),
				GpsTime:        float64(i),
			},
		}
	}
	return points
}

func countByPosition(points []model.Point) map[r3.Vector]int {
	out := make(map[r3.Vector]int, len(points))
	for _, p := range points {
		out[p.Position]++
	}
	return out
}

func TestInsertThenQueryReturnsEveryPointOnce(t *testing.T) {
	e := newTestEngine(t, testParams())
	rng := rand.New(rand.NewSource(1))
	points := uniformPoints(rng, 20_000, 16)

	require.NoError(t, e.Insert(points))
	require.NoError(t, e.Flush(context.Background()))

	res, err := e.Execute(context.Background(), query.Full(), ExecOptions{})
	require.NoError(t, err)
	require.Len(t, res.Points, len(points))
	assert.Equal(t, countByPosition(points), countByPosition(res.Points))
	assert.False(t, res.Partial)
	assert.Greater(t, res.NrNonEmptyNodes, 1, "expected the tree to have split")
}

func TestPointOnCellBoundaryStoredExactlyOnce(t *testing.T) {
	e := newTestEngine(t, testParams())

	// (16,0,0) sits on the face shared by two root cells and must land in
	// exactly one of them.
	points := []model.Point{
		{Position: r3.Vector{X: 16, Y: 0, Z: 0}},
		{Position: r3.Vector{X: 15.999, Y: 0, Z: 0}},
		{Position: r3.Vector{X: 8, Y: 8, Z: 8}},
	}
	require.NoError(t, e.Insert(points))
	require.NoError(t, e.Flush(context.Background()))

	res, err := e.Execute(context.Background(), query.Full(), ExecOptions{})
	require.NoError(t, err)
	require.Len(t, res.Points, 3)
}

func TestSpatialQuerySelectsOctant(t *testing.T) {
	e := newTestEngine(t, testParams())
	rng := rand.New(rand.NewSource(2))
	points := uniformPoints(rng, 10_000, 16)
	require.NoError(t, e.Insert(points))
	require.NoError(t, e.Flush(context.Background()))

	box := geom.NewAABB(r3.Vector{}, r3.Vector{X: 8, Y: 8, Z: 8})
	want := 0
	for _, p := range points {
		if box.ContainsClosed(p.Position) {
			want++
		}
	}

	res, err := e.Execute(context.Background(), query.Aabb(box), ExecOptions{PointFilter: true})
	require.NoError(t, err)
	assert.Len(t, res.Points, want)

	// Without point filtering the node-level match must return a superset.
	coarse, err := e.Execute(context.Background(), query.Aabb(box), ExecOptions{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(coarse.Points), want)
}

func TestConcurrentInsertMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	points := uniformPoints(rng, 12_000, 16)

	sequential := newTestEngine(t, testParams())
	require.NoError(t, sequential.Insert(points))
	require.NoError(t, sequential.Flush(context.Background()))

	concurrent := newTestEngine(t, testParams())
	var wg sync.WaitGroup
	const chunks = 8
	chunkSize := len(points) / chunks
	for i := 0; i < chunks; i++ {
		batch := points[i*chunkSize : (i+1)*chunkSize]
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, concurrent.Insert(batch))
		}()
	}
	wg.Wait()
	require.NoError(t, concurrent.Flush(context.Background()))

	seqRes, err := sequential.Execute(context.Background(), query.Full(), ExecOptions{})
	require.NoError(t, err)
	conRes, err := concurrent.Execute(context.Background(), query.Full(), ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, countByPosition(seqRes.Points), countByPosition(conRes.Points))
}

func TestQueryRepeatable(t *testing.T) {
	e := newTestEngine(t, testParams())
	rng := rand.New(rand.NewSource(4))
	require.NoError(t, e.Insert(uniformPoints(rng, 5_000, 16)))
	require.NoError(t, e.Flush(context.Background()))

	q := query.Aabb(geom.NewAABB(r3.Vector{}, r3.Vector{X: 4, Y: 4, Z: 4}))
	first, err := e.Execute(context.Background(), q, ExecOptions{PointFilter: true})
	require.NoError(t, err)
	second, err := e.Execute(context.Background(), q, ExecOptions{PointFilter: true})
	require.NoError(t, err)
	assert.Equal(t, countByPosition(first.Points), countByPosition(second.Points))
}

func TestOverflowAtMaxDepthDropsAndCounts(t *testing.T) {
	params := testParams()
	params.MaxLOD = 0
	params.PointsPerNode = 10
	params.MaxBogusLeaf = 10
	params.MaxBogusInner = 10
	e := newTestEngine(t, params)

	points := make([]model.Point, 100)
	for i := range points {
		points[i].Position = r3.Vector{X: float64(i) / 100 * 16}
	}
	require.NoError(t, e.Insert(points))
	require.NoError(t, e.Flush(context.Background()))

	stats := e.Stats()
	assert.Equal(t, int64(80), stats.DroppedPoints)

	res, err := e.Execute(context.Background(), query.Full(), ExecOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Points, 20)
}

func TestAttributeAccelerationPrunesMonotonically(t *testing.T) {
	e := newTestEngine(t, testParams())
	rng := rand.New(rand.NewSource(5))

	// Ground points cluster in one corner, buildings in the opposite one,
	// so attribute pruning has distinct nodes to cut.
	var points []model.Point
	for i := 0; i < 8_000; i++ {
		points = append(points, model.Point{
			Position:   r3.Vector{X: rng.Float64() * 4, Y: rng.Float64() * 4, Z: rng.Float64() * 4},
			Attributes: model.Attributes{Classification: model.ClassGround, Intensity: uint16(rng.Intn(1000))},
		})
		points = append(points, model.Point{
			Position:   r3.Vector{X: 12 + rng.Float64()*4, Y: 12 + rng.Float64()*4, Z: 12 + rng.Float64()*4},
			Attributes: model.Attributes{Classification: model.ClassBuilding, Intensity: uint16(30000 + rng.Intn(1000))},
		})
	}
	require.NoError(t, e.Insert(points))
	require.NoError(t, e.Flush(context.Background()))

	filter := attrindex.NewFilter().WithClassification(model.ClassGround, model.ClassGround)
	q := query.Attribute(filter)

	baseline, err := e.Execute(context.Background(), q, ExecOptions{PointFilter: true})
	require.NoError(t, err)
	rangeAcc, err := e.Execute(context.Background(), q, ExecOptions{
		PointFilter:  true,
		Acceleration: attrindex.ModeRangeOnly,
	})
	require.NoError(t, err)
	fullAcc, err := e.Execute(context.Background(), q, ExecOptions{
		PointFilter:  true,
		Acceleration: attrindex.ModeAll,
		Filter:       filter,
	})
	require.NoError(t, err)

	// Acceleration never changes the answer, only the work.
	want := countByPosition(baseline.Points)
	assert.Equal(t, want, countByPosition(rangeAcc.Points))
	assert.Equal(t, want, countByPosition(fullAcc.Points))
	assert.Len(t, baseline.Points, 8_000)

	assert.GreaterOrEqual(t, baseline.NrNodes, rangeAcc.NrNodes)
	assert.GreaterOrEqual(t, rangeAcc.NrNodes, fullAcc.NrNodes)
	assert.Less(t, fullAcc.NrNodes, baseline.NrNodes, "acceleration should prune some nodes")
}

func TestAcceleratedQueryDuringInsertionNeverLosesPoints(t *testing.T) {
	e := newTestEngine(t, testParams())
	rng := rand.New(rand.NewSource(12))

	points := uniformPoints(rng, 16_000, 16)
	for i := range points {
		points[i].Classification = model.ClassGround
	}
	filter := attrindex.NewFilter().WithClassification(model.ClassGround, model.ClassGround)
	opts := ExecOptions{
		PointFilter:  true,
		Acceleration: attrindex.ModeAll,
		Filter:       filter,
	}

	// The attribute index is widened before a page mutation becomes
	// visible, so any cell whose page holds points must already be in the
	// candidate set of a filter matching them. Scan that invariant while
	// the insertion workers are racing the readers; posting lists only
	// grow, so checking them after reading a page can never flag a
	// healthy engine.
	done := make(chan struct{})
	go func() {
		defer close(done)
		const batch = 1_000
		for off := 0; off < len(points); off += batch {
			assert.NoError(t, e.Insert(points[off:off+batch]))
		}
	}()

	scan := func() {
		maxLOD := e.dir.MaxLOD()
		for lod := model.LOD(0); lod <= maxLOD; lod++ {
			for _, cell := range e.dir.CellsAtLOD(lod) {
				var n int
				err := e.cache.Read(cell, func(node *store.Node) error {
					n = node.NrPoints()
					return nil
				})
				if err != nil || n == 0 {
					continue
				}
				candidates, narrowed := e.attr.CandidateNodes(filter, attrindex.ModeAll)
				require.True(t, narrowed)
				ord, ok := e.dir.Ordinal(cell)
				require.True(t, ok)
				require.True(t, candidates.Contains(ord),
					"cell %s has %d points on its page but is not a candidate", cell, n)
			}
		}
	}
	for {
		scan()
		select {
		case <-done:
			require.NoError(t, e.Flush(context.Background()))
			scan()
			res, err := e.Execute(context.Background(), query.Attribute(filter), opts)
			require.NoError(t, err)
			assert.Len(t, res.Points, len(points))
			return
		default:
		}
	}
}

func TestExecuteDeadlineReturnsPartial(t *testing.T) {
	e := newTestEngine(t, testParams())
	rng := rand.New(rand.NewSource(6))
	require.NoError(t, e.Insert(uniformPoints(rng, 5_000, 16)))
	require.NoError(t, e.Flush(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Execute(ctx, query.Full(), ExecOptions{})
	require.NoError(t, err)
	assert.True(t, res.Partial)
}

func TestExecuteStreamDeliversCoarseLevelsFirst(t *testing.T) {
	e := newTestEngine(t, testParams())
	rng := rand.New(rand.NewSource(7))
	points := uniformPoints(rng, 15_000, 16)
	require.NoError(t, e.Insert(points))
	require.NoError(t, e.Flush(context.Background()))

	var (
		total   int
		lastLOD model.LOD
		batches int
	)
	for batch := range e.ExecuteStream(context.Background(), query.Full(), ExecOptions{}) {
		require.NoError(t, batch.Err)
		assert.GreaterOrEqual(t, batch.LOD, lastLOD)
		lastLOD = batch.LOD
		total += len(batch.Points)
		batches++
	}
	assert.Equal(t, len(points), total)
	assert.Greater(t, batches, 1)
}

func TestLodQueryLimitsDepth(t *testing.T) {
	e := newTestEngine(t, testParams())
	rng := rand.New(rand.NewSource(8))
	require.NoError(t, e.Insert(uniformPoints(rng, 20_000, 16)))
	require.NoError(t, e.Flush(context.Background()))

	full, err := e.Execute(context.Background(), query.Full(), ExecOptions{})
	require.NoError(t, err)
	coarse, err := e.Execute(context.Background(), query.Lod(0), ExecOptions{})
	require.NoError(t, err)

	assert.Less(t, len(coarse.Points), len(full.Points))
	assert.Less(t, coarse.NrNodes, full.NrNodes)
	_, hasRoot := coarse.LatencyByLOD[0]
	assert.True(t, hasRoot)
}

func TestFailedCleanupDoesNotCountAppliedPointsAsDropped(t *testing.T) {
	dir := t.TempDir()
	pages := filepath.Join(dir, "pages")
	ps, err := store.NewPageStore(pages, store.EncodingRaw)
	require.NoError(t, err)
	cd, err := store.OpenDirectory(filepath.Join(dir, "directory.bin"))
	require.NoError(t, err)
	ai, err := attrindex.Open(filepath.Join(dir, "attr_index.bin"),
		attrindex.ModeAll, attrindex.DefaultHistogramSettings())
	require.NoError(t, err)

	params := testParams()
	params.NumWorkers = 1
	e := New(cache.New(ps, 1, nil), cd, ai, params, nil, nil)
	defer func() { _ = e.Close() }()

	// Replace the pages directory with a file so every page write fails.
	// Evicting a dirty node then errors, but points already applied to
	// their nodes must not be reported as dropped.
	require.NoError(t, os.RemoveAll(pages))
	require.NoError(t, os.WriteFile(pages, []byte("x"), 0o640))

	points := []model.Point{
		{Position: r3.Vector{X: 1, Y: 1, Z: 1}},
		{Position: r3.Vector{X: 20, Y: 1, Z: 1}},
	}
	require.NoError(t, e.Insert(points))
	require.NoError(t, e.sched.waitDrained(context.Background()))

	assert.Zero(t, e.Stats().DroppedPoints)

	res, err := e.Execute(context.Background(), query.Full(), ExecOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Points, len(points))
}

func TestInsertAfterCloseFails(t *testing.T) {
	e := newTestEngine(t, testParams())
	require.NoError(t, e.Insert(uniformPoints(rand.New(rand.NewSource(9)), 100, 16)))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close is idempotent")
	assert.ErrorIs(t, e.Insert([]model.Point{{}}), ErrClosed)
}

func TestReopenedIndexServesQueries(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(11))
	points := uniformPoints(rng, 8_000, 16)

	open := func() *Engine {
		ps, err := store.NewPageStore(filepath.Join(dir, "pages"), store.EncodingZstd)
		require.NoError(t, err)
		cd, err := store.OpenDirectory(filepath.Join(dir, "directory.bin"))
		require.NoError(t, err)
		ai, err := attrindex.Open(filepath.Join(dir, "attr_index.bin"),
			attrindex.ModeAll, attrindex.DefaultHistogramSettings())
		require.NoError(t, err)
		return New(cache.New(ps, 32, nil), cd, ai, testParams(), nil, nil)
	}

	e := open()
	require.NoError(t, e.Insert(points))
	require.NoError(t, e.Close())

	reopened := open()
	defer func() { require.NoError(t, reopened.Close()) }()
	res, err := reopened.Execute(context.Background(), query.Full(), ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, countByPosition(points), countByPosition(res.Points))
}
