package attrindex

import (
	"fmt"

	"github.com/pointlake/pointlake/model"
)

type integer interface {
	~int8 | ~int16 | ~int32 | ~uint8 | ~uint16 | ~uint32
}

// Histogram counts attribute values in fixed-width bins over a closed
// value domain. Values outside the domain are clamped to the edge bins, so
// a histogram can never lose a value (which would risk a false negative
// during pruning).
type Histogram[T integer] struct {
	Bins     []uint64 `cbor:"bins"`
	MinValue T        `cbor:"min"`
	MaxValue T        `cbor:"max"`
	binWidth int64
}

// NewHistogram creates a histogram with numBins bins over [min, max].
func NewHistogram[T integer](min, max T, numBins int) (Histogram[T], error) {
	if min >= max {
		return Histogram[T]{}, fmt.Errorf("histogram: min %v must be less than max %v", min, max)
	}
	if numBins < 1 {
		return Histogram[T]{}, fmt.Errorf("histogram: need at least one bin")
	}
	span := int64(max) - int64(min) + 1
	if int64(numBins) > span {
		return Histogram[T]{}, fmt.Errorf("histogram: %d bins for a domain of %d values", numBins, span)
	}
	return Histogram[T]{
		Bins:     make([]uint64, numBins),
		MinValue: min,
		MaxValue: max,
		binWidth: span / int64(numBins),
	}, nil
}

func (h *Histogram[T]) clamp(v T) T {
	if v < h.MinValue {
		return h.MinValue
	}
	if v > h.MaxValue {
		return h.MaxValue
	}
	return v
}

// BinIndex returns the bin a value falls into, clamping out-of-domain
// values to the edges.
func (h *Histogram[T]) BinIndex(v T) int {
	v = h.clamp(v)
	idx := (int64(v) - int64(h.MinValue)) / h.width()
	if idx >= int64(len(h.Bins)) {
		idx = int64(len(h.Bins)) - 1
	}
	return int(idx)
}

// width recomputes the bin width when the histogram was decoded from disk
// (the derived field is not serialized).
func (h *Histogram[T]) width() int64 {
	if h.binWidth == 0 {
		span := int64(h.MaxValue) - int64(h.MinValue) + 1
		h.binWidth = span / int64(len(h.Bins))
		if h.binWidth == 0 {
			h.binWidth = 1
		}
	}
	return h.binWidth
}

// Add counts a value.
func (h *Histogram[T]) Add(v T) {
	h.Bins[h.BinIndex(v)]++
}

// NumBins returns the number of bins.
func (h *Histogram[T]) NumBins() int { return len(h.Bins) }

// RangeContains reports whether any counted value could lie in [lo, hi].
// Bin granularity makes this conservative: it may report true for a range
// that only shares a bin with counted values, never false for a range that
// contains one.
func (h *Histogram[T]) RangeContains(lo, hi T) bool {
	if hi < h.MinValue || lo > h.MaxValue {
		return false
	}
	for i := h.BinIndex(lo); i <= h.BinIndex(hi); i++ {
		if h.Bins[i] > 0 {
			return true
		}
	}
	return false
}

// Merge adds another histogram's counts. Both must share domain and bin
// count.
func (h *Histogram[T]) Merge(o *Histogram[T]) error {
	if h.MinValue != o.MinValue || h.MaxValue != o.MaxValue || len(h.Bins) != len(o.Bins) {
		return fmt.Errorf("histogram: merging incompatible histograms")
	}
	for i := range h.Bins {
		h.Bins[i] += o.Bins[i]
	}
	return nil
}

// HistogramSettings fixes the bin counts per histogrammed attribute.
// GPS time and color are covered by the range accelerator only; their
// domains are too wide for useful fixed binning.
type HistogramSettings struct {
	IntensityBins      int `json:"intensity_bins"`
	ReturnNumberBins   int `json:"return_number_bins"`
	ClassificationBins int `json:"classification_bins"`
	ScanAngleBins      int `json:"scan_angle_bins"`
	UserDataBins       int `json:"user_data_bins"`
	PointSourceBins    int `json:"point_source_bins"`
}

// DefaultHistogramSettings mirrors the bin counts the evaluation runs use.
func DefaultHistogramSettings() HistogramSettings {
	return HistogramSettings{
		IntensityBins:      25,
		ReturnNumberBins:   8,
		ClassificationBins: 32,
		ScanAngleBins:      25,
		UserDataBins:       16,
		PointSourceBins:    16,
	}
}

// Histograms bundles the per-attribute histograms of one node.
type Histograms struct {
	Intensity      Histogram[uint16] `cbor:"intensity"`
	ReturnNumber   Histogram[uint8]  `cbor:"return_number"`
	Classification Histogram[uint8]  `cbor:"classification"`
	ScanAngleRank  Histogram[int8]   `cbor:"scan_angle_rank"`
	UserData       Histogram[uint8]  `cbor:"user_data"`
	PointSourceID  Histogram[uint16] `cbor:"point_source_id"`
}

// NewHistograms creates the per-node histogram set for the given settings.
func NewHistograms(s HistogramSettings) (*Histograms, error) {
	var (
		h   Histograms
		err error
	)
	if h.Intensity, err = NewHistogram[uint16](0, 65535, s.IntensityBins); err != nil {
		return nil, err
	}
	if h.ReturnNumber, err = NewHistogram[uint8](0, 7, s.ReturnNumberBins); err != nil {
		return nil, err
	}
	if h.Classification, err = NewHistogram[uint8](0, 31, s.ClassificationBins); err != nil {
		return nil, err
	}
	if h.ScanAngleRank, err = NewHistogram[int8](-90, 90, s.ScanAngleBins); err != nil {
		return nil, err
	}
	if h.UserData, err = NewHistogram[uint8](0, 255, s.UserDataBins); err != nil {
		return nil, err
	}
	if h.PointSourceID, err = NewHistogram[uint16](0, 65535, s.PointSourceBins); err != nil {
		return nil, err
	}
	return &h, nil
}

// AddPoint counts the point's attributes.
func (h *Histograms) AddPoint(a *model.Attributes) {
	h.Intensity.Add(a.Intensity)
	h.ReturnNumber.Add(a.ReturnNumber)
	h.Classification.Add(a.Classification)
	h.ScanAngleRank.Add(a.ScanAngleRank)
	h.UserData.Add(a.UserData)
	h.PointSourceID.Add(a.PointSourceID)
}

// MayMatchFilter reports whether the histograms admit any point matching
// the filter. Attributes without a histogram (gps_time, color) are ignored
// here; the range accelerator covers them.
func (h *Histograms) MayMatchFilter(f *Bounds) bool {
	if f.Intensity.Valid && !h.Intensity.RangeContains(f.Intensity.Min, f.Intensity.Max) {
		return false
	}
	if f.ReturnNumber.Valid && !h.ReturnNumber.RangeContains(f.ReturnNumber.Min, f.ReturnNumber.Max) {
		return false
	}
	if f.Classification.Valid && !h.Classification.RangeContains(f.Classification.Min, f.Classification.Max) {
		return false
	}
	if f.ScanAngleRank.Valid && !h.ScanAngleRank.RangeContains(f.ScanAngleRank.Min, f.ScanAngleRank.Max) {
		return false
	}
	if f.UserData.Valid && !h.UserData.RangeContains(f.UserData.Min, f.UserData.Max) {
		return false
	}
	if f.PointSourceID.Valid && !h.PointSourceID.RangeContains(f.PointSourceID.Min, f.PointSourceID.Max) {
		return false
	}
	return true
}

// Merge adds another node's counts.
func (h *Histograms) Merge(o *Histograms) error {
	if err := h.Intensity.Merge(&o.Intensity); err != nil {
		return err
	}
	if err := h.ReturnNumber.Merge(&o.ReturnNumber); err != nil {
		return err
	}
	if err := h.Classification.Merge(&o.Classification); err != nil {
		return err
	}
	if err := h.ScanAngleRank.Merge(&o.ScanAngleRank); err != nil {
		return err
	}
	if err := h.UserData.Merge(&o.UserData); err != nil {
		return err
	}
	return h.PointSourceID.Merge(&o.PointSourceID)
}
