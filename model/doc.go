// Package model defines core types used throughout pointlake.
//
// # Identity Types
//
//   - CellID: Identifies an octree node by LOD level and grid cell coordinates
//   - LOD: Level-of-detail index (0 = root/coarsest)
//
// # Data Types
//
//   - Point: A single LiDAR return with position and LAS attributes
//   - Attributes: The LAS point record attributes carried by every point
//
// Points are immutable once ingested; the engine never rewrites attribute
// values after a point has been accepted.
package model
