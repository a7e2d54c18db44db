package model

import (
	"fmt"
	"strconv"
	"strings"
)

// LOD is a level-of-detail index. Level 0 is the root (coarsest) level;
// higher levels refine it.
type LOD uint8

// String returns the canonical "LODn" form used in reports and logs.
func (l LOD) String() string {
	return fmt.Sprintf("LOD%d", uint8(l))
}

// CellID identifies an octree node by its LOD level and integer grid cell
// coordinates within that level.
type CellID struct {
	LOD LOD
	X   int32
	Y   int32
	Z   int32
}

// String returns a stable, file-system safe form ("L2_-1_0_3"). It is used
// as the page file name for the node, so it must stay stable across
// releases.
func (c CellID) String() string {
	return fmt.Sprintf("L%d_%d_%d_%d", uint8(c.LOD), c.X, c.Y, c.Z)
}

// ParseCellID parses the form produced by String.
func ParseCellID(s string) (CellID, error) {
	rest, ok := strings.CutPrefix(s, "L")
	if !ok {
		return CellID{}, fmt.Errorf("invalid cell id %q", s)
	}
	parts := strings.Split(rest, "_")
	if len(parts) != 4 {
		return CellID{}, fmt.Errorf("invalid cell id %q", s)
	}
	lod, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return CellID{}, fmt.Errorf("invalid cell id %q: %w", s, err)
	}
	var xyz [3]int32
	for i, p := range parts[1:] {
		v, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return CellID{}, fmt.Errorf("invalid cell id %q: %w", s, err)
		}
		xyz[i] = int32(v)
	}
	return CellID{LOD: LOD(lod), X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}
