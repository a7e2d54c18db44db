package attrindex

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/fxamacker/cbor/v2"

	"github.com/pointlake/pointlake/model"
)

// attribute identifies a histogrammed attribute inside posting keys.
type attribute uint8

const (
	attrIntensity attribute = iota
	attrReturnNumber
	attrClassification
	attrScanAngleRank
	attrUserData
	attrPointSourceID
)

type binKey struct {
	Attr attribute
	Bin  uint16
}

type cellEntry struct {
	Bounds Bounds
	Hist   *Histograms
}

// AttributeIndex maintains the per-node accelerators and the global bin
// posting lists. It is safe for concurrent use; updates of distinct nodes
// contend only on the index lock, not on any I/O.
type AttributeIndex struct {
	mode     Mode
	settings HistogramSettings
	path     string

	// template carries the bin layout so filter ranges can be mapped to
	// bin indexes without looking at any particular node.
	template *Histograms

	mu       sync.RWMutex
	cells    map[model.CellID]*cellEntry
	postings map[binKey]*roaring.Bitmap
	dirty    bool
}

type indexFile struct {
	Mode     uint8                `cbor:"mode"`
	Cells    map[string]cellFile  `cbor:"cells"`
	Postings map[string][]byte    `cbor:"postings"`
	Settings histogramSettingsRec `cbor:"settings"`
}

type cellFile struct {
	Bounds Bounds      `cbor:"bounds"`
	Hist   *Histograms `cbor:"hist,omitempty"`
}

type histogramSettingsRec struct {
	Intensity      int `cbor:"intensity"`
	ReturnNumber   int `cbor:"return_number"`
	Classification int `cbor:"classification"`
	ScanAngle      int `cbor:"scan_angle"`
	UserData       int `cbor:"user_data"`
	PointSource    int `cbor:"point_source"`
}

// Open loads the attribute index file at path, or starts an empty index if
// none exists yet. The configured mode and histogram settings must match
// the file; an index cannot change shape after creation.
func Open(path string, mode Mode, settings HistogramSettings) (*AttributeIndex, error) {
	idx := &AttributeIndex{
		mode:     mode,
		settings: settings,
		path:     path,
		cells:    make(map[model.CellID]*cellEntry),
		postings: make(map[binKey]*roaring.Bitmap),
	}
	if mode.HistogramEnabled() {
		tmpl, err := NewHistograms(settings)
		if err != nil {
			return nil, err
		}
		idx.template = tmpl
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read attribute index: %w", err)
	}
	var f indexFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode attribute index: %w", err)
	}
	if Mode(f.Mode) != mode {
		return nil, fmt.Errorf("attribute index mode mismatch: file has %s, configured %s", Mode(f.Mode), mode)
	}
	for key, rec := range f.Cells {
		id, err := model.ParseCellID(key)
		if err != nil {
			return nil, fmt.Errorf("decode attribute index: %w", err)
		}
		idx.cells[id] = &cellEntry{Bounds: rec.Bounds, Hist: rec.Hist}
	}
	for key, raw := range f.Postings {
		var a attribute
		var bin uint16
		if _, err := fmt.Sscanf(key, "%d:%d", &a, &bin); err != nil {
			return nil, fmt.Errorf("decode attribute index postings: %w", err)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("decode attribute index postings: %w", err)
		}
		idx.postings[binKey{Attr: a, Bin: bin}] = bm
	}
	return idx, nil
}

// Mode returns the configured index mode.
func (x *AttributeIndex) Mode() Mode { return x.mode }

// Update folds a batch of points just written to a node into its
// accelerators. ordinal is the node's dense directory ordinal, used in the
// posting lists.
func (x *AttributeIndex) Update(id model.CellID, ordinal uint32, points []model.Point) error {
	if x.mode == ModeNone || len(points) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.cells[id]
	if !ok {
		e = &cellEntry{}
		if x.mode.HistogramEnabled() {
			hist, err := NewHistograms(x.settings)
			if err != nil {
				return err
			}
			e.Hist = hist
		}
		x.cells[id] = e
	}
	for i := range points {
		a := &points[i].Attributes
		if x.mode.RangeEnabled() {
			e.Bounds.UpdatePoint(a)
		}
		if x.mode.HistogramEnabled() {
			e.Hist.AddPoint(a)
			x.post(attrIntensity, e.Hist.Intensity.BinIndex(a.Intensity), ordinal)
			x.post(attrReturnNumber, e.Hist.ReturnNumber.BinIndex(a.ReturnNumber), ordinal)
			x.post(attrClassification, e.Hist.Classification.BinIndex(a.Classification), ordinal)
			x.post(attrScanAngleRank, e.Hist.ScanAngleRank.BinIndex(a.ScanAngleRank), ordinal)
			x.post(attrUserData, e.Hist.UserData.BinIndex(a.UserData), ordinal)
			x.post(attrPointSourceID, e.Hist.PointSourceID.BinIndex(a.PointSourceID), ordinal)
		}
	}
	x.dirty = true
	return nil
}

func (x *AttributeIndex) post(a attribute, bin int, ordinal uint32) {
	key := binKey{Attr: a, Bin: uint16(bin)}
	bm, ok := x.postings[key]
	if !ok {
		bm = roaring.New()
		x.postings[key] = bm
	}
	bm.Add(ordinal)
}

// MayMatch reports whether the node could hold a point matching the
// filter, under the given effective mode (index mode already combined
// with any per-query override). The range check runs first; histograms
// are consulted only when the ranges are inconclusive. A node the index
// has never seen is never pruned.
func (x *AttributeIndex) MayMatch(id model.CellID, filter *Bounds, effective Mode) bool {
	if filter == nil || !filter.IsConstrained() || effective == ModeNone {
		return true
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	e, ok := x.cells[id]
	if !ok {
		return true
	}
	if effective.RangeEnabled() && !e.Bounds.OverlapsFilter(filter) {
		return false
	}
	if effective.HistogramEnabled() && e.Hist != nil && !e.Hist.MayMatchFilter(filter) {
		return false
	}
	return true
}

// CandidateNodes returns the set of node ordinals whose bin postings
// overlap the filter, intersected across all histogrammed attributes the
// filter constrains. The second return is false when the postings cannot
// narrow the filter (histograms disabled, or no histogrammed attribute is
// constrained); the caller must then consider every node.
func (x *AttributeIndex) CandidateNodes(filter *Bounds, effective Mode) (*roaring.Bitmap, bool) {
	if filter == nil || !effective.HistogramEnabled() || x.template == nil {
		return nil, false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	var result *roaring.Bitmap
	intersect := func(bm *roaring.Bitmap) {
		if result == nil {
			result = bm
		} else {
			result.And(bm)
		}
	}

	narrowed := false
	if filter.Intensity.Valid {
		intersect(x.binUnion(attrIntensity, x.template.Intensity.BinIndex(filter.Intensity.Min), x.template.Intensity.BinIndex(filter.Intensity.Max)))
		narrowed = true
	}
	if filter.ReturnNumber.Valid {
		intersect(x.binUnion(attrReturnNumber, x.template.ReturnNumber.BinIndex(filter.ReturnNumber.Min), x.template.ReturnNumber.BinIndex(filter.ReturnNumber.Max)))
		narrowed = true
	}
	if filter.Classification.Valid {
		intersect(x.binUnion(attrClassification, x.template.Classification.BinIndex(filter.Classification.Min), x.template.Classification.BinIndex(filter.Classification.Max)))
		narrowed = true
	}
	if filter.ScanAngleRank.Valid {
		intersect(x.binUnion(attrScanAngleRank, x.template.ScanAngleRank.BinIndex(filter.ScanAngleRank.Min), x.template.ScanAngleRank.BinIndex(filter.ScanAngleRank.Max)))
		narrowed = true
	}
	if filter.UserData.Valid {
		intersect(x.binUnion(attrUserData, x.template.UserData.BinIndex(filter.UserData.Min), x.template.UserData.BinIndex(filter.UserData.Max)))
		narrowed = true
	}
	if filter.PointSourceID.Valid {
		intersect(x.binUnion(attrPointSourceID, x.template.PointSourceID.BinIndex(filter.PointSourceID.Min), x.template.PointSourceID.BinIndex(filter.PointSourceID.Max)))
		narrowed = true
	}
	if !narrowed {
		return nil, false
	}
	return result, true
}

// binUnion unions the postings of bins [lo, hi] for one attribute.
func (x *AttributeIndex) binUnion(a attribute, lo, hi int) *roaring.Bitmap {
	out := roaring.New()
	for bin := lo; bin <= hi; bin++ {
		if bm, ok := x.postings[binKey{Attr: a, Bin: uint16(bin)}]; ok {
			out.Or(bm)
		}
	}
	return out
}

// Len returns the number of nodes the index has seen.
func (x *AttributeIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.cells)
}

// Save writes the index file unconditionally.
func (x *AttributeIndex) Save() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.saveLocked()
}

// FlushIfDirty writes the index file only if it changed since the last
// save.
func (x *AttributeIndex) FlushIfDirty() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.dirty {
		return nil
	}
	return x.saveLocked()
}

func (x *AttributeIndex) saveLocked() error {
	f := indexFile{
		Mode:  uint8(x.mode),
		Cells: make(map[string]cellFile, len(x.cells)),
		Settings: histogramSettingsRec{
			Intensity:      x.settings.IntensityBins,
			ReturnNumber:   x.settings.ReturnNumberBins,
			Classification: x.settings.ClassificationBins,
			ScanAngle:      x.settings.ScanAngleBins,
			UserData:       x.settings.UserDataBins,
			PointSource:    x.settings.PointSourceBins,
		},
	}
	for id, e := range x.cells {
		f.Cells[id.String()] = cellFile{Bounds: e.Bounds, Hist: e.Hist}
	}
	if len(x.postings) > 0 {
		f.Postings = make(map[string][]byte, len(x.postings))
		for key, bm := range x.postings {
			raw, err := bm.MarshalBinary()
			if err != nil {
				return fmt.Errorf("encode attribute index postings: %w", err)
			}
			f.Postings[fmt.Sprintf("%d:%d", key.Attr, key.Bin)] = raw
		}
	}
	data, err := cbor.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode attribute index: %w", err)
	}
	tmp := x.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write attribute index: %w", err)
	}
	if err := os.Rename(tmp, x.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write attribute index: %w", err)
	}
	x.dirty = false
	return nil
}
