package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointlake/pointlake/model"
)

func testNode() *Node {
	return &Node{
		Points: []model.Point{
			{
				Position: r3.Vector{X: 1.5, Y: -2.25, Z: 100.125},
				Attributes: model.Attributes{
					Intensity:       512,
					ReturnNumber:    1,
					NumberOfReturns: 2,
					Classification:  model.ClassGround,
					ScanAngleRank:   -15,
					UserData:        7,
					PointSourceID:   42,
					GpsTime:         123456.789,
					ColorR:          65535,
					ColorG:          128,
					ColorB:          1,
				},
			},
			{Position: r3.Vector{X: 0, Y: 0, Z: 0}},
		},
		Bogus: []model.Point{
			{
				Position:   r3.Vector{X: -1e6, Y: 1e6, Z: 0.5},
				Attributes: model.Attributes{Classification: model.ClassBuilding},
			},
		},
	}
}

func TestPageStoreRoundTrip(t *testing.T) {
	for _, encoding := range []Encoding{EncodingRaw, EncodingZstd, EncodingLZ4} {
		t.Run(encoding.String(), func(t *testing.T) {
			s, err := NewPageStore(t.TempDir(), encoding)
			require.NoError(t, err)

			id := model.CellID{LOD: 2, X: -1, Y: 0, Z: 3}
			want := testNode()
			require.NoError(t, s.WriteNode(id, want))

			got, err := s.ReadNode(id)
			require.NoError(t, err)
			assert.Equal(t, want.Points, got.Points)
			assert.Equal(t, want.Bogus, got.Bogus)
		})
	}
}

func TestPageStoreOverwrite(t *testing.T) {
	s, err := NewPageStore(t.TempDir(), EncodingRaw)
	require.NoError(t, err)

	id := model.CellID{LOD: 0, X: 0, Y: 0, Z: 0}
	require.NoError(t, s.WriteNode(id, testNode()))

	smaller := &Node{Points: []model.Point{{Position: r3.Vector{X: 1, Y: 2, Z: 3}}}}
	require.NoError(t, s.WriteNode(id, smaller))

	got, err := s.ReadNode(id)
	require.NoError(t, err)
	assert.Len(t, got.Points, 1)
	assert.Empty(t, got.Bogus)
}

func TestPageStoreNotFound(t *testing.T) {
	s, err := NewPageStore(t.TempDir(), EncodingRaw)
	require.NoError(t, err)

	_, err = s.ReadNode(model.CellID{LOD: 1, X: 9, Y: 9, Z: 9})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestPageStoreDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPageStore(dir, EncodingZstd)
	require.NoError(t, err)

	id := model.CellID{LOD: 1, X: 1, Y: 1, Z: 1}
	require.NoError(t, s.WriteNode(id, testNode()))

	// Flip a payload byte behind the store's back.
	path := filepath.Join(dir, id.String()+".page")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o640))

	_, err = s.ReadNode(id)
	var corrupt *CorruptNodeError
	require.True(t, errors.As(err, &corrupt), "expected CorruptNodeError, got %v", err)
	assert.Equal(t, id, corrupt.Cell)
}

func TestPageStoreRejectsForeignEncoding(t *testing.T) {
	dir := t.TempDir()

	s, err := NewPageStore(dir, EncodingRaw)
	require.NoError(t, err)
	id := model.CellID{LOD: 0, X: 0, Y: 0, Z: 0}
	require.NoError(t, s.WriteNode(id, testNode()))

	s2, err := NewPageStore(dir, EncodingLZ4)
	require.NoError(t, err)
	_, err = s2.ReadNode(id)
	var corrupt *CorruptNodeError
	assert.True(t, errors.As(err, &corrupt))
}

func TestDirectoryPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.cbor")

	d, err := OpenDirectory(path)
	require.NoError(t, err)

	root := model.CellID{LOD: 0, X: 0, Y: 0, Z: 0}
	child := model.CellID{LOD: 1, X: 1, Y: 0, Z: 1}

	ordRoot, created := d.Add(root)
	assert.True(t, created)
	ordChild, created := d.Add(child)
	assert.True(t, created)
	assert.NotEqual(t, ordRoot, ordChild)

	// Re-adding keeps the ordinal stable.
	again, created := d.Add(root)
	assert.False(t, created)
	assert.Equal(t, ordRoot, again)

	require.NoError(t, d.FlushIfDirty())

	reopened, err := OpenDirectory(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	ord, ok := reopened.Ordinal(child)
	assert.True(t, ok)
	assert.Equal(t, ordChild, ord)
	assert.ElementsMatch(t, []model.CellID{root}, reopened.RootCells())
}

func TestDirectoryIsLeaf(t *testing.T) {
	d, err := OpenDirectory(filepath.Join(t.TempDir(), "directory.cbor"))
	require.NoError(t, err)

	root := model.CellID{LOD: 0, X: 0, Y: 0, Z: 0}
	d.Add(root)
	assert.True(t, d.IsLeaf(root))

	d.Add(model.CellID{LOD: 1, X: 1, Y: 1, Z: 0})
	assert.False(t, d.IsLeaf(root))

	// A child of a *different* root does not affect leaf status.
	other := model.CellID{LOD: 0, X: 5, Y: 0, Z: 0}
	d.Add(other)
	assert.True(t, d.IsLeaf(other))
}

func TestDirectoryCountPerLOD(t *testing.T) {
	d, err := OpenDirectory(filepath.Join(t.TempDir(), "directory.cbor"))
	require.NoError(t, err)

	d.Add(model.CellID{LOD: 0, X: 0, Y: 0, Z: 0})
	d.Add(model.CellID{LOD: 1, X: 0, Y: 0, Z: 0})
	d.Add(model.CellID{LOD: 1, X: 1, Y: 0, Z: 0})

	assert.Equal(t, []int{1, 2}, d.CountPerLOD())
	assert.Equal(t, model.LOD(1), d.MaxLOD())
}
