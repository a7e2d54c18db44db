// Package geom provides the axis-aligned geometry and grid hierarchy that
// back the octree's spatial layout.
//
// All cell membership tests use half-open intervals [min, max): a point on
// a shared boundary belongs to exactly one cell, deterministically.
package geom

import (
	"github.com/golang/geo/r3"
)

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min r3.Vector
	Max r3.Vector
}

// NewAABB returns the box spanning min..max. The caller is responsible for
// min <= max per axis.
func NewAABB(min, max r3.Vector) AABB {
	return AABB{Min: min, Max: max}
}

// Contains reports whether p lies inside the box using the half-open
// convention [Min, Max).
func (b AABB) Contains(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y &&
		p.Z >= b.Min.Z && p.Z < b.Max.Z
}

// ContainsClosed reports whether p lies inside the box including the upper
// faces. Query bounds use this so that a query for an exact extent matches
// points on its far faces.
func (b AABB) ContainsClosed(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Intersects reports whether the two boxes overlap.
func (b AABB) Intersects(o AABB) bool {
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

// ContainsBox reports whether o is fully inside b.
func (b AABB) ContainsBox(o AABB) bool {
	return o.Min.X >= b.Min.X && o.Max.X <= b.Max.X &&
		o.Min.Y >= b.Min.Y && o.Max.Y <= b.Max.Y &&
		o.Min.Z >= b.Min.Z && o.Max.Z <= b.Max.Z
}

// Center returns the midpoint of the box.
func (b AABB) Center() r3.Vector {
	return r3.Vector{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Extend grows the box to include p.
func (b *AABB) Extend(p r3.Vector) {
	if p.X < b.Min.X {
		b.Min.X = p.X
	}
	if p.Y < b.Min.Y {
		b.Min.Y = p.Y
	}
	if p.Z < b.Min.Z {
		b.Min.Z = p.Z
	}
	if p.X > b.Max.X {
		b.Max.X = p.X
	}
	if p.Y > b.Max.Y {
		b.Max.Y = p.Y
	}
	if p.Z > b.Max.Z {
		b.Max.Z = p.Z
	}
}
