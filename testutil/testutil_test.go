package testutil

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointlake/pointlake/geom"
)

func TestUniformPointsDeterministic(t *testing.T) {
	bounds := geom.NewAABB(r3.Vector{X: -10, Y: -10, Z: 0}, r3.Vector{X: 10, Y: 10, Z: 5})

	a := NewRNG(42).UniformPoints(1000, bounds)
	b := NewRNG(42).UniformPoints(1000, bounds)
	require.Equal(t, a, b)

	for _, p := range a {
		assert.True(t, bounds.Contains(p.Position), "point %v outside bounds", p.Position)
		assert.GreaterOrEqual(t, p.ReturnNumber, uint8(1))
		assert.LessOrEqual(t, p.ReturnNumber, p.NumberOfReturns)
	}
}

func TestRNGReset(t *testing.T) {
	rng := NewRNG(7)
	first := rng.Intn(1_000_000)
	rng.Reset()
	assert.Equal(t, first, rng.Intn(1_000_000))
	assert.Equal(t, int64(7), rng.Seed())
}

func TestClusteredPoints(t *testing.T) {
	center := r3.Vector{X: 100, Y: 100, Z: 10}
	points := NewRNG(1).ClusteredPoints(500, center, 4, 6)
	for _, p := range points {
		assert.InDelta(t, center.X, p.Position.X, 2)
		assert.InDelta(t, center.Z, p.Position.Z, 2)
		assert.Equal(t, uint8(6), p.Classification)
	}
}
