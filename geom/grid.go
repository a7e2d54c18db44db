package geom

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/pointlake/pointlake/model"
)

// GridHierarchy maps positions to octree cells across LOD levels.
//
// At LOD l the cubic cell edge length is 2^(shift-l), so each level halves
// the edge and a cell at level l has exactly 8 children at level l+1. The
// shift is the "node hierarchy" parameter of the index: larger values mean
// coarser root cells.
type GridHierarchy struct {
	shift int
}

// NewGridHierarchy creates a hierarchy with the given shift.
func NewGridHierarchy(shift int) GridHierarchy {
	return GridHierarchy{shift: shift}
}

// Shift returns the configured node hierarchy shift.
func (h GridHierarchy) Shift() int { return h.shift }

// CellSize returns the cell edge length at the given LOD.
func (h GridHierarchy) CellSize(lod model.LOD) float64 {
	return math.Pow(2, float64(h.shift)-float64(lod))
}

// CellAt returns the cell containing pos at the given LOD. Membership is
// half-open, so a position on a shared cell face maps to the cell on its
// positive side.
func (h GridHierarchy) CellAt(lod model.LOD, pos r3.Vector) model.CellID {
	size := h.CellSize(lod)
	return model.CellID{
		LOD: lod,
		X:   int32(math.Floor(pos.X / size)),
		Y:   int32(math.Floor(pos.Y / size)),
		Z:   int32(math.Floor(pos.Z / size)),
	}
}

// CellBounds returns the half-open bounding box of the cell.
func (h GridHierarchy) CellBounds(id model.CellID) AABB {
	size := h.CellSize(id.LOD)
	min := r3.Vector{
		X: float64(id.X) * size,
		Y: float64(id.Y) * size,
		Z: float64(id.Z) * size,
	}
	return AABB{
		Min: min,
		Max: r3.Vector{X: min.X + size, Y: min.Y + size, Z: min.Z + size},
	}
}

// Children returns the 8 child cells at the next LOD, ordered by child
// index x | y<<1 | z<<2.
func (h GridHierarchy) Children(id model.CellID) [8]model.CellID {
	var out [8]model.CellID
	lod := id.LOD + 1
	bx, by, bz := id.X*2, id.Y*2, id.Z*2
	for i := 0; i < 8; i++ {
		out[i] = model.CellID{
			LOD: lod,
			X:   bx + int32(i&1),
			Y:   by + int32(i>>1&1),
			Z:   bz + int32(i>>2&1),
		}
	}
	return out
}

// Parent returns the cell's parent at the previous LOD. Calling Parent on a
// root cell (LOD 0) is invalid.
func (h GridHierarchy) Parent(id model.CellID) model.CellID {
	return model.CellID{
		LOD: id.LOD - 1,
		X:   int32(math.Floor(float64(id.X) / 2)),
		Y:   int32(math.Floor(float64(id.Y) / 2)),
		Z:   int32(math.Floor(float64(id.Z) / 2)),
	}
}

// ChildIndex assigns pos to one of the 8 children of the cell with the
// given center, using the same half-open rule as CellAt: pos < center goes
// to the low half.
func ChildIndex(center r3.Vector, pos r3.Vector) int {
	idx := 0
	if pos.X >= center.X {
		idx |= 1
	}
	if pos.Y >= center.Y {
		idx |= 2
	}
	if pos.Z >= center.Z {
		idx |= 4
	}
	return idx
}
