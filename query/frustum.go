package query

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/pointlake/pointlake/geom"
	"github.com/pointlake/pointlake/model"
)

// ViewFrustum describes a perspective camera volume.
type ViewFrustum struct {
	// CameraPos is the viewer position, CameraDir the looking direction
	// and CameraUp the up reference. CameraDir and CameraUp must not be
	// parallel.
	CameraPos r3.Vector
	CameraDir r3.Vector
	CameraUp  r3.Vector
	// FovY is the vertical field of view in radians, the angle between
	// the top and bottom faces of the frustum. AspectRatio is width over
	// height.
	FovY        float64
	AspectRatio float64
	// ZNear and ZFar clip the volume along the view direction;
	// 0 < ZNear < ZFar.
	ZNear float64
	ZFar  float64
}

// plane is a half-space boundary; positions with distance >= 0 are inside.
type plane struct {
	normal r3.Vector
	offset float64
}

func planeThrough(normal, point r3.Vector) plane {
	n := normal.Normalize()
	return plane{normal: n, offset: -n.Dot(point)}
}

func (pl plane) distance(p r3.Vector) float64 {
	return pl.normal.Dot(p) + pl.offset
}

type frustum struct {
	planes [6]plane
}

// Frustum matches points inside the camera volume, the visibility query of
// a rendering client. Node evaluation rejects a node only when its box
// lies entirely outside one of the six frustum planes; boxes straddling a
// frustum edge are kept, which is conservative in the right direction.
func Frustum(v ViewFrustum) Query {
	dir := v.CameraDir.Normalize()
	right := v.CameraUp.Cross(dir).Normalize()
	up := dir.Cross(right)

	tanV := math.Tan(v.FovY / 2)
	tanH := tanV * v.AspectRatio

	topDir := dir.Add(up.Mul(tanV))
	bottomDir := dir.Sub(up.Mul(tanV))
	rightDir := dir.Add(right.Mul(tanH))
	leftDir := dir.Sub(right.Mul(tanH))

	return frustum{planes: [6]plane{
		planeThrough(dir, v.CameraPos.Add(dir.Mul(v.ZNear))),
		planeThrough(dir.Mul(-1), v.CameraPos.Add(dir.Mul(v.ZFar))),
		planeThrough(right.Cross(topDir), v.CameraPos),
		planeThrough(bottomDir.Cross(right), v.CameraPos),
		planeThrough(rightDir.Cross(up), v.CameraPos),
		planeThrough(up.Cross(leftDir), v.CameraPos),
	}}
}

func (q frustum) MatchesNode(ctx *NodeContext) bool {
	corners := boxCorners(ctx.Bounds)
	for _, pl := range q.planes {
		outside := true
		for _, c := range corners {
			if pl.distance(c) >= 0 {
				outside = false
				break
			}
		}
		if outside {
			return false
		}
	}
	return true
}

func (q frustum) MatchesPoint(p *model.Point, _ *NodeContext) bool {
	for _, pl := range q.planes {
		if pl.distance(p.Position) < 0 {
			return false
		}
	}
	return true
}

func (q frustum) String() string { return "view_frustum" }

func boxCorners(box geom.AABB) [8]r3.Vector {
	var out [8]r3.Vector
	for i := 0; i < 8; i++ {
		c := box.Min
		if i&1 != 0 {
			c.X = box.Max.X
		}
		if i&2 != 0 {
			c.Y = box.Max.Y
		}
		if i&4 != 0 {
			c.Z = box.Max.Z
		}
		out[i] = c
	}
	return out
}
