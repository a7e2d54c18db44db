package testutil

import (
	"math/rand"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/pointlake/pointlake/geom"
	"github.com/pointlake/pointlake/model"
)

// RNG is a seeded, thread-safe random source for reproducible point cloud
// generation.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// UniformPoints generates num points uniformly distributed inside bounds,
// with attributes drawn from plausible LAS value ranges. Positions lie in
// the half-open box, so every point maps to a grid cell.
func (r *RNG) UniformPoints(num int, bounds geom.AABB) []model.Point {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := r3.Vector{
		X: bounds.Max.X - bounds.Min.X,
		Y: bounds.Max.Y - bounds.Min.Y,
		Z: bounds.Max.Z - bounds.Min.Z,
	}
	points := make([]model.Point, num)
	for i := range points {
		points[i] = model.Point{
			Position: r3.Vector{
				X: bounds.Min.X + r.rand.Float64()*span.X,
				Y: bounds.Min.Y + r.rand.Float64()*span.Y,
				Z: bounds.Min.Z + r.rand.Float64()*span.Z,
			},
			Attributes: r.attributes(i),
		}
	}
	return points
}

// ClusteredPoints generates num points around the given center with the
// given spread per axis, mimicking a dense scan of a single object. All
// generated points share the classification.
func (r *RNG) ClusteredPoints(num int, center r3.Vector, spread float64, classification uint8) []model.Point {
	r.mu.Lock()
	defer r.mu.Unlock()

	points := make([]model.Point, num)
	for i := range points {
		points[i] = model.Point{
			Position: r3.Vector{
				X: center.X + (r.rand.Float64()-0.5)*spread,
				Y: center.Y + (r.rand.Float64()-0.5)*spread,
				Z: center.Z + (r.rand.Float64()-0.5)*spread,
			},
			Attributes: r.attributes(i),
		}
		points[i].Classification = classification
	}
	return points
}

// attributes draws LAS attributes; gps time increases monotonically with i
// so time-window filters have something to select on.
func (r *RNG) attributes(i int) model.Attributes {
	nrReturns := uint8(r.rand.Intn(4) + 1)
	return model.Attributes{
		Intensity:       uint16(r.rand.Intn(65536)),
		ReturnNumber:    uint8(r.rand.Intn(int(nrReturns))) + 1,
		NumberOfReturns: nrReturns,
		Classification:  uint8(r.rand.Intn(10)),
		ScanAngleRank:   int8(r.rand.Intn(61) - 30),
		UserData:        uint8(r.rand.Intn(256)),
		PointSourceID:   uint16(r.rand.Intn(8)),
		GpsTime:         float64(i) * 1e-4,
		ColorR:          uint16(r.rand.Intn(65536)),
		ColorG:          uint16(r.rand.Intn(65536)),
		ColorB:          uint16(r.rand.Intn(65536)),
	}
}
