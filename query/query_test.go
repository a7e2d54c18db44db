package query

import (
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointlake/pointlake/attrindex"
	"github.com/pointlake/pointlake/geom"
	"github.com/pointlake/pointlake/model"
)

func nodeCtx() *NodeContext {
	return &NodeContext{
		Cell:   model.CellID{LOD: 1, X: 0, Y: 0, Z: 0},
		Bounds: geom.NewAABB(r3.Vector{}, r3.Vector{X: 10, Y: 10, Z: 10}),
	}
}

func pointAt(x, y, z float64) *model.Point {
	return &model.Point{Position: r3.Vector{X: x, Y: y, Z: z}}
}

func TestEmptyAndFull(t *testing.T) {
	ctx := nodeCtx()
	p := pointAt(1, 1, 1)

	assert.False(t, Empty().MatchesNode(ctx))
	assert.False(t, Empty().MatchesPoint(p, ctx))
	assert.True(t, Full().MatchesNode(ctx))
	assert.True(t, Full().MatchesPoint(p, ctx))
}

func TestAabb(t *testing.T) {
	ctx := nodeCtx()
	q := Aabb(geom.NewAABB(r3.Vector{X: 2, Y: 2, Z: 2}, r3.Vector{X: 4, Y: 4, Z: 4}))

	assert.True(t, q.MatchesNode(ctx))
	assert.True(t, q.MatchesPoint(pointAt(3, 3, 3), ctx))
	assert.False(t, q.MatchesPoint(pointAt(5, 3, 3), ctx))

	// The query box is closed, so points on the far face match.
	assert.True(t, q.MatchesPoint(pointAt(4, 4, 4), ctx))

	far := Aabb(geom.NewAABB(r3.Vector{X: 100, Y: 100, Z: 100}, r3.Vector{X: 110, Y: 110, Z: 110}))
	assert.False(t, far.MatchesNode(ctx))
}

func TestLod(t *testing.T) {
	ctx := nodeCtx() // cell at LOD 1
	assert.False(t, Lod(0).MatchesNode(ctx))
	assert.True(t, Lod(1).MatchesNode(ctx))
	assert.True(t, Lod(5).MatchesNode(ctx))
	assert.True(t, Lod(0).MatchesPoint(pointAt(0, 0, 0), ctx))
}

func TestBooleanOperators(t *testing.T) {
	ctx := nodeCtx()
	p := pointAt(3, 3, 3)
	inside := Aabb(geom.NewAABB(r3.Vector{}, r3.Vector{X: 5, Y: 5, Z: 5}))
	outside := Aabb(geom.NewAABB(r3.Vector{X: 100, Y: 100, Z: 100}, r3.Vector{X: 110, Y: 110, Z: 110}))

	assert.True(t, And(inside, Full()).MatchesPoint(p, ctx))
	assert.False(t, And(inside, outside).MatchesPoint(p, ctx))
	assert.True(t, Or(inside, outside).MatchesPoint(p, ctx))
	assert.False(t, Or(outside, Empty()).MatchesPoint(p, ctx))

	// Zero-operand forms collapse to the identities.
	assert.True(t, And().MatchesPoint(p, ctx))
	assert.False(t, Or().MatchesPoint(p, ctx))

	assert.False(t, And(inside, outside).MatchesNode(ctx))
	assert.True(t, Or(outside, inside).MatchesNode(ctx))
}

func TestNot(t *testing.T) {
	ctx := nodeCtx()
	inside := Aabb(geom.NewAABB(r3.Vector{}, r3.Vector{X: 5, Y: 5, Z: 5}))

	assert.False(t, Not(inside).MatchesPoint(pointAt(3, 3, 3), ctx))
	assert.True(t, Not(inside).MatchesPoint(pointAt(8, 8, 8), ctx))

	// Node evaluation of a negation never prunes: a node overlapping the
	// inner query can still hold points outside it.
	assert.True(t, Not(inside).MatchesNode(ctx))
	assert.True(t, Not(Full()).MatchesNode(ctx))
}

func TestAttribute(t *testing.T) {
	ctx := nodeCtx()
	filter := attrindex.NewFilter().WithClassification(model.ClassGround, model.ClassGround)
	q := Attribute(filter)

	ground := &model.Point{Attributes: model.Attributes{Classification: model.ClassGround}}
	building := &model.Point{Attributes: model.Attributes{Classification: model.ClassBuilding}}
	assert.True(t, q.MatchesPoint(ground, ctx))
	assert.False(t, q.MatchesPoint(building, ctx))

	// No attribute index in the context: every node is accepted.
	assert.True(t, q.MatchesNode(ctx))
}

func TestAttributeUsesIndex(t *testing.T) {
	idx, err := attrindex.Open(filepath.Join(t.TempDir(), "attr_index.bin"),
		attrindex.ModeAll, attrindex.DefaultHistogramSettings())
	require.NoError(t, err)

	groundNode := model.CellID{LOD: 0, X: 0}
	buildingNode := model.CellID{LOD: 0, X: 1}
	require.NoError(t, idx.Update(groundNode, 0, []model.Point{
		{Attributes: model.Attributes{Classification: model.ClassGround}},
	}))
	require.NoError(t, idx.Update(buildingNode, 1, []model.Point{
		{Attributes: model.Attributes{Classification: model.ClassBuilding}},
	}))

	q := Attribute(attrindex.NewFilter().WithClassification(model.ClassGround, model.ClassGround))
	ctx := &NodeContext{Index: idx, Mode: attrindex.ModeAll}

	ctx.Cell = groundNode
	assert.True(t, q.MatchesNode(ctx))
	ctx.Cell = buildingNode
	assert.False(t, q.MatchesNode(ctx))

	// Disabling acceleration for the query turns pruning off.
	ctx.Mode = attrindex.ModeNone
	assert.True(t, q.MatchesNode(ctx))
}

func TestString(t *testing.T) {
	q := And(Lod(2), Or(Full(), Not(Empty())))
	assert.Equal(t, "(lod(<=LOD2) and (full or !(empty)))", q.String())
}
