// Package query defines the boolean query language evaluated against the
// octree.
//
// A query is evaluated at two granularities. MatchesNode is the coarse
// check used to prune whole subtrees before their pages are loaded; it is
// conservative and may accept nodes that contain no matching point, but it
// never rejects a node that does. MatchesPoint is the exact per-point
// check applied to loaded pages when point filtering is enabled.
package query

import (
	"fmt"
	"strings"

	"github.com/pointlake/pointlake/attrindex"
	"github.com/pointlake/pointlake/geom"
	"github.com/pointlake/pointlake/model"
)

// NodeContext carries what a query needs to know about the node under
// evaluation.
type NodeContext struct {
	Cell   model.CellID
	Bounds geom.AABB
	// Index and Mode drive attribute pruning. A nil Index or ModeNone
	// disables it; attribute queries then accept every node.
	Index *attrindex.AttributeIndex
	Mode  attrindex.Mode
}

// Query is a node in the query expression tree.
type Query interface {
	// MatchesNode reports whether the node could contain a matching
	// point. It must never return false for a node that does.
	MatchesNode(ctx *NodeContext) bool
	// MatchesPoint reports whether the point matches exactly.
	MatchesPoint(p *model.Point, ctx *NodeContext) bool
	fmt.Stringer
}

type empty struct{}

// Empty matches nothing.
func Empty() Query { return empty{} }

func (empty) MatchesNode(*NodeContext) bool                { return false }
func (empty) MatchesPoint(*model.Point, *NodeContext) bool { return false }
func (empty) String() string                               { return "empty" }

type full struct{}

// Full matches everything.
func Full() Query { return full{} }

func (full) MatchesNode(*NodeContext) bool                { return true }
func (full) MatchesPoint(*model.Point, *NodeContext) bool { return true }
func (full) String() string                               { return "full" }

type not struct {
	inner Query
}

// Not inverts a query. Point evaluation is exact; node evaluation stays
// conservative because a node whose points partially match the inner query
// still contains points matching the negation.
func Not(inner Query) Query { return not{inner: inner} }

func (q not) MatchesNode(*NodeContext) bool { return true }

func (q not) MatchesPoint(p *model.Point, ctx *NodeContext) bool {
	return !q.inner.MatchesPoint(p, ctx)
}

func (q not) String() string { return fmt.Sprintf("!(%s)", q.inner) }

type and struct {
	operands []Query
}

// And matches where all operands match. And() is Full.
func And(operands ...Query) Query {
	if len(operands) == 0 {
		return Full()
	}
	return and{operands: operands}
}

func (q and) MatchesNode(ctx *NodeContext) bool {
	for _, op := range q.operands {
		if !op.MatchesNode(ctx) {
			return false
		}
	}
	return true
}

func (q and) MatchesPoint(p *model.Point, ctx *NodeContext) bool {
	for _, op := range q.operands {
		if !op.MatchesPoint(p, ctx) {
			return false
		}
	}
	return true
}

func (q and) String() string { return joinOperands(q.operands, " and ") }

type or struct {
	operands []Query
}

// Or matches where any operand matches. Or() is Empty.
func Or(operands ...Query) Query {
	if len(operands) == 0 {
		return Empty()
	}
	return or{operands: operands}
}

func (q or) MatchesNode(ctx *NodeContext) bool {
	for _, op := range q.operands {
		if op.MatchesNode(ctx) {
			return true
		}
	}
	return false
}

func (q or) MatchesPoint(p *model.Point, ctx *NodeContext) bool {
	for _, op := range q.operands {
		if op.MatchesPoint(p, ctx) {
			return true
		}
	}
	return false
}

func (q or) String() string { return joinOperands(q.operands, " or ") }

func joinOperands(operands []Query, sep string) string {
	parts := make([]string, len(operands))
	for i, op := range operands {
		parts[i] = op.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

type aabb struct {
	box geom.AABB
}

// Aabb matches points inside the box. The box is closed on all faces, so
// a query for an exact cell boundary still returns the points sitting on
// it.
func Aabb(box geom.AABB) Query { return aabb{box: box} }

func (q aabb) MatchesNode(ctx *NodeContext) bool {
	return q.box.Intersects(ctx.Bounds)
}

func (q aabb) MatchesPoint(p *model.Point, _ *NodeContext) bool {
	return q.box.ContainsClosed(p.Position)
}

func (q aabb) String() string {
	return fmt.Sprintf("aabb(%v, %v)", q.box.Min, q.box.Max)
}

type lod struct {
	max model.LOD
}

// Lod matches nodes up to and including the given level of detail. It
// constrains which nodes are visited, not which points within them match.
func Lod(max model.LOD) Query { return lod{max: max} }

func (q lod) MatchesNode(ctx *NodeContext) bool {
	return ctx.Cell.LOD <= q.max
}

func (q lod) MatchesPoint(*model.Point, *NodeContext) bool { return true }

func (q lod) String() string { return fmt.Sprintf("lod(<=%s)", q.max) }

type attribute struct {
	filter *attrindex.Bounds
}

// Attribute matches points whose attributes fall into the filter's set
// ranges. Node evaluation consults the attribute index when one is
// available.
func Attribute(filter *attrindex.Bounds) Query {
	if filter == nil {
		filter = attrindex.NewFilter()
	}
	return attribute{filter: filter}
}

func (q attribute) MatchesNode(ctx *NodeContext) bool {
	if ctx.Index == nil {
		return true
	}
	return ctx.Index.MayMatch(ctx.Cell, q.filter, ctx.Mode)
}

func (q attribute) MatchesPoint(p *model.Point, _ *NodeContext) bool {
	return q.filter.MatchesPoint(&p.Attributes)
}

func (q attribute) String() string { return "attribute" }
