package attrindex

import (
	"cmp"

	"github.com/pointlake/pointlake/model"
)

// Range is an inclusive [Min, Max] interval over a single attribute.
// A zero Range is "unset": as node bounds it means the node has no values,
// as a filter it means the attribute is unconstrained.
type Range[T cmp.Ordered] struct {
	Valid bool `cbor:"v"`
	Min   T    `cbor:"min"`
	Max   T    `cbor:"max"`
}

// NewRange returns a set interval.
func NewRange[T cmp.Ordered](min, max T) Range[T] {
	if max < min {
		min, max = max, min
	}
	return Range[T]{Valid: true, Min: min, Max: max}
}

// Update widens the interval to include v.
func (r *Range[T]) Update(v T) {
	if !r.Valid {
		*r = Range[T]{Valid: true, Min: v, Max: v}
		return
	}
	if v < r.Min {
		r.Min = v
	}
	if v > r.Max {
		r.Max = v
	}
}

// UpdateRange widens the interval to include o.
func (r *Range[T]) UpdateRange(o Range[T]) {
	if !o.Valid {
		return
	}
	r.Update(o.Min)
	r.Update(o.Max)
}

// Contains reports whether v lies in the interval. An unset interval
// contains nothing.
func (r Range[T]) Contains(v T) bool {
	return r.Valid && v >= r.Min && v <= r.Max
}

// Overlaps reports whether the two set intervals intersect.
func (r Range[T]) Overlaps(o Range[T]) bool {
	return r.Valid && o.Valid && r.Min <= o.Max && o.Min <= r.Max
}

// Bounds carries one Range per LAS attribute. It serves two roles:
// per-node value bounds in the attribute index, and the attribute filter
// of a query (where unset ranges leave the attribute unconstrained).
type Bounds struct {
	Intensity       Range[uint16]  `cbor:"intensity"`
	ReturnNumber    Range[uint8]   `cbor:"return_number"`
	NumberOfReturns Range[uint8]   `cbor:"number_of_returns"`
	Classification  Range[uint8]   `cbor:"classification"`
	ScanAngleRank   Range[int8]    `cbor:"scan_angle_rank"`
	UserData        Range[uint8]   `cbor:"user_data"`
	PointSourceID   Range[uint16]  `cbor:"point_source_id"`
	GpsTime         Range[float64] `cbor:"gps_time"`
	ColorR          Range[uint16]  `cbor:"color_r"`
	ColorG          Range[uint16]  `cbor:"color_g"`
	ColorB          Range[uint16]  `cbor:"color_b"`
}

// UpdatePoint widens the bounds to include the point's attributes.
func (b *Bounds) UpdatePoint(a *model.Attributes) {
	b.Intensity.Update(a.Intensity)
	b.ReturnNumber.Update(a.ReturnNumber)
	b.NumberOfReturns.Update(a.NumberOfReturns)
	b.Classification.Update(a.Classification)
	b.ScanAngleRank.Update(a.ScanAngleRank)
	b.UserData.Update(a.UserData)
	b.PointSourceID.Update(a.PointSourceID)
	b.GpsTime.Update(a.GpsTime)
	b.ColorR.Update(a.ColorR)
	b.ColorG.Update(a.ColorG)
	b.ColorB.Update(a.ColorB)
}

// UpdateBounds widens the bounds to include another node's bounds.
func (b *Bounds) UpdateBounds(o *Bounds) {
	b.Intensity.UpdateRange(o.Intensity)
	b.ReturnNumber.UpdateRange(o.ReturnNumber)
	b.NumberOfReturns.UpdateRange(o.NumberOfReturns)
	b.Classification.UpdateRange(o.Classification)
	b.ScanAngleRank.UpdateRange(o.ScanAngleRank)
	b.UserData.UpdateRange(o.UserData)
	b.PointSourceID.UpdateRange(o.PointSourceID)
	b.GpsTime.UpdateRange(o.GpsTime)
	b.ColorR.UpdateRange(o.ColorR)
	b.ColorG.UpdateRange(o.ColorG)
	b.ColorB.UpdateRange(o.ColorB)
}

// MatchesPoint applies the bounds as a filter to a point: every set range
// must contain the point's value, unset ranges pass.
func (b *Bounds) MatchesPoint(a *model.Attributes) bool {
	return matches(b.Intensity, a.Intensity) &&
		matches(b.ReturnNumber, a.ReturnNumber) &&
		matches(b.NumberOfReturns, a.NumberOfReturns) &&
		matches(b.Classification, a.Classification) &&
		matches(b.ScanAngleRank, a.ScanAngleRank) &&
		matches(b.UserData, a.UserData) &&
		matches(b.PointSourceID, a.PointSourceID) &&
		matches(b.GpsTime, a.GpsTime) &&
		matches(b.ColorR, a.ColorR) &&
		matches(b.ColorG, a.ColorG) &&
		matches(b.ColorB, a.ColorB)
}

func matches[T cmp.Ordered](filter Range[T], v T) bool {
	return !filter.Valid || filter.Contains(v)
}

// OverlapsFilter reports whether node bounds b could contain a point
// matching the filter: every attribute the filter constrains must overlap
// the node's value range for it. A node with no recorded values for a
// constrained attribute cannot match.
func (b *Bounds) OverlapsFilter(f *Bounds) bool {
	return overlaps(b.Intensity, f.Intensity) &&
		overlaps(b.ReturnNumber, f.ReturnNumber) &&
		overlaps(b.NumberOfReturns, f.NumberOfReturns) &&
		overlaps(b.Classification, f.Classification) &&
		overlaps(b.ScanAngleRank, f.ScanAngleRank) &&
		overlaps(b.UserData, f.UserData) &&
		overlaps(b.PointSourceID, f.PointSourceID) &&
		overlaps(b.GpsTime, f.GpsTime) &&
		overlaps(b.ColorR, f.ColorR) &&
		overlaps(b.ColorG, f.ColorG) &&
		overlaps(b.ColorB, f.ColorB)
}

func overlaps[T cmp.Ordered](node, filter Range[T]) bool {
	return !filter.Valid || node.Overlaps(filter)
}

// IsConstrained reports whether the bounds, used as a filter, constrain
// anything at all.
func (b *Bounds) IsConstrained() bool {
	return b.Intensity.Valid || b.ReturnNumber.Valid || b.NumberOfReturns.Valid ||
		b.Classification.Valid || b.ScanAngleRank.Valid || b.UserData.Valid ||
		b.PointSourceID.Valid || b.GpsTime.Valid ||
		b.ColorR.Valid || b.ColorG.Valid || b.ColorB.Valid
}

// Fluent filter construction, e.g.
// attrindex.NewFilter().WithClassification(model.ClassGround, model.ClassGround).

// NewFilter returns an empty (unconstrained) filter.
func NewFilter() *Bounds { return &Bounds{} }

// WithClassification constrains the classification code.
func (b *Bounds) WithClassification(min, max uint8) *Bounds {
	b.Classification = NewRange(min, max)
	return b
}

// WithIntensity constrains the intensity value.
func (b *Bounds) WithIntensity(min, max uint16) *Bounds {
	b.Intensity = NewRange(min, max)
	return b
}

// WithGpsTime constrains the GPS timestamp.
func (b *Bounds) WithGpsTime(min, max float64) *Bounds {
	b.GpsTime = NewRange(min, max)
	return b
}

// WithPointSourceID constrains the point source id.
func (b *Bounds) WithPointSourceID(min, max uint16) *Bounds {
	b.PointSourceID = NewRange(min, max)
	return b
}

// WithScanAngleRank constrains the scan angle rank.
func (b *Bounds) WithScanAngleRank(min, max int8) *Bounds {
	b.ScanAngleRank = NewRange(min, max)
	return b
}

// WithReturnNumber constrains the return number.
func (b *Bounds) WithReturnNumber(min, max uint8) *Bounds {
	b.ReturnNumber = NewRange(min, max)
	return b
}
