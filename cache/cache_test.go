package cache

import (
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointlake/pointlake/model"
	"github.com/pointlake/pointlake/store"
)

func newTestCache(t *testing.T, capacity int) (*PageCache, *store.PageStore) {
	t.Helper()
	s, err := store.NewPageStore(t.TempDir(), store.EncodingRaw)
	require.NoError(t, err)
	return New(s, capacity, nil), s
}

func cellID(lod model.LOD, x int32) model.CellID {
	return model.CellID{LOD: lod, X: x}
}

func addPoint(x float64) func(*store.Node) error {
	return func(n *store.Node) error {
		n.Points = append(n.Points, model.Point{Position: r3.Vector{X: x}})
		return nil
	}
}

func TestUpdateCreatesAndReadSees(t *testing.T) {
	c, _ := newTestCache(t, 4)
	id := cellID(0, 1)

	require.NoError(t, c.Update(id, addPoint(1)))
	require.NoError(t, c.Update(id, addPoint(2)))

	var got int
	require.NoError(t, c.Read(id, func(n *store.Node) error {
		got = len(n.Points)
		return nil
	}))
	assert.Equal(t, 2, got)
}

func TestReadMissingNode(t *testing.T) {
	c, _ := newTestCache(t, 4)
	err := c.Read(cellID(0, 99), func(n *store.Node) error { return nil })
	assert.ErrorIs(t, err, store.ErrNodeNotFound)
}

func TestCleanupFlushesDirtyAndEvicts(t *testing.T) {
	c, s := newTestCache(t, 2)

	for x := int32(0); x < 4; x++ {
		require.NoError(t, c.Update(cellID(0, x), addPoint(float64(x))))
	}
	require.NoError(t, c.Cleanup())
	assert.LessOrEqual(t, c.Len(), 2)

	// Evicted dirty pages must have been persisted.
	n, err := s.ReadNode(cellID(0, 0))
	require.NoError(t, err)
	assert.Len(t, n.Points, 1)

	// And reading an evicted page reloads it from the store.
	require.NoError(t, c.Read(cellID(0, 1), func(n *store.Node) error {
		assert.Len(t, n.Points, 1)
		return nil
	}))
}

func TestFlushKeepsPagesCached(t *testing.T) {
	c, s := newTestCache(t, 8)

	require.NoError(t, c.Update(cellID(0, 0), addPoint(1)))
	require.NoError(t, c.Update(cellID(0, 1), addPoint(2)))
	require.NoError(t, c.Flush())
	assert.Equal(t, 2, c.Len())

	for x := int32(0); x < 2; x++ {
		n, err := s.ReadNode(cellID(0, x))
		require.NoError(t, err)
		assert.Len(t, n.Points, 1)
	}
}

func TestPinnedPageNotEvicted(t *testing.T) {
	c, _ := newTestCache(t, 1)
	id := cellID(0, 0)
	require.NoError(t, c.Update(id, addPoint(1)))

	require.NoError(t, c.Read(id, func(n *store.Node) error {
		// While pinned by this callback, pushing other pages over
		// capacity must not evict the pinned one.
		require.NoError(t, c.Update(cellID(0, 1), addPoint(2)))
		require.NoError(t, c.Cleanup())
		assert.Len(t, n.Points, 1)
		return nil
	}))
}

func TestConcurrentUpdatesDistinctNodes(t *testing.T) {
	c, _ := newTestCache(t, 4)
	const perNode = 50

	var wg sync.WaitGroup
	for x := int32(0); x < 8; x++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perNode; i++ {
				_ = c.Update(cellID(0, x), addPoint(float64(i)))
				_ = c.Cleanup()
			}
		}()
	}
	wg.Wait()
	require.NoError(t, c.Flush())
	require.NoError(t, c.Cleanup())

	total := 0
	for x := int32(0); x < 8; x++ {
		require.NoError(t, c.Read(cellID(0, x), func(n *store.Node) error {
			total += len(n.Points)
			return nil
		}))
	}
	assert.Equal(t, 8*perNode, total)
}

func TestStatsCountHitsAndMisses(t *testing.T) {
	c, _ := newTestCache(t, 4)
	id := cellID(0, 0)
	require.NoError(t, c.Update(id, addPoint(1)))
	require.NoError(t, c.Read(id, func(n *store.Node) error { return nil }))

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}
