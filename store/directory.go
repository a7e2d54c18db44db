package store

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/pointlake/pointlake/model"
)

// Directory tracks which cells exist in the index and assigns every cell a
// dense ordinal used by the attribute index's posting lists. It is the
// in-memory twin of a CBOR file in the data directory and must be flushed
// together with the pages it describes.
type Directory struct {
	mu    sync.RWMutex
	path  string
	cells map[model.CellID]uint32
	next  uint32
	dirty bool
}

type directoryFile struct {
	Cells map[string]uint32 `cbor:"cells"`
	Next  uint32            `cbor:"next"`
}

// OpenDirectory loads the directory file at path, or starts an empty
// directory if none exists yet.
func OpenDirectory(path string) (*Directory, error) {
	d := &Directory{path: path, cells: make(map[model.CellID]uint32)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var f directoryFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	for key, ord := range f.Cells {
		id, err := model.ParseCellID(key)
		if err != nil {
			return nil, fmt.Errorf("decode directory: %w", err)
		}
		d.cells[id] = ord
	}
	d.next = f.Next
	return d, nil
}

// Add records the cell, assigning it an ordinal on first sight. It returns
// the cell's ordinal and whether the cell is new.
func (d *Directory) Add(id model.CellID) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ord, ok := d.cells[id]; ok {
		return ord, false
	}
	ord := d.next
	d.next++
	d.cells[id] = ord
	d.dirty = true
	return ord, true
}

// Ordinal returns the dense ordinal assigned to the cell.
func (d *Directory) Ordinal(id model.CellID) (uint32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ord, ok := d.cells[id]
	return ord, ok
}

// Exists reports whether the cell has been recorded.
func (d *Directory) Exists(id model.CellID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.cells[id]
	return ok
}

// IsLeaf reports whether none of the cell's children exist yet.
func (d *Directory) IsLeaf(id model.CellID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	lod := id.LOD + 1
	bx, by, bz := id.X*2, id.Y*2, id.Z*2
	for i := int32(0); i < 8; i++ {
		child := model.CellID{LOD: lod, X: bx + i&1, Y: by + i>>1&1, Z: bz + i>>2&1}
		if _, ok := d.cells[child]; ok {
			return false
		}
	}
	return true
}

// RootCells returns all recorded cells at LOD 0.
func (d *Directory) RootCells() []model.CellID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []model.CellID
	for id := range d.cells {
		if id.LOD == 0 {
			out = append(out, id)
		}
	}
	return out
}

// CellsAtLOD returns all recorded cells at the given LOD.
func (d *Directory) CellsAtLOD(lod model.LOD) []model.CellID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []model.CellID
	for id := range d.cells {
		if id.LOD == lod {
			out = append(out, id)
		}
	}
	return out
}

// CountPerLOD returns the number of recorded cells per LOD, indexed by
// level.
func (d *Directory) CountPerLOD() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var counts []int
	for id := range d.cells {
		for int(id.LOD) >= len(counts) {
			counts = append(counts, 0)
		}
		counts[id.LOD]++
	}
	return counts
}

// MaxLOD returns the deepest recorded level.
func (d *Directory) MaxLOD() model.LOD {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var max model.LOD
	for id := range d.cells {
		if id.LOD > max {
			max = id.LOD
		}
	}
	return max
}

// Len returns the total number of recorded cells.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cells)
}

// Save writes the directory file unconditionally.
func (d *Directory) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveLocked()
}

// FlushIfDirty writes the directory file only if it changed since the last
// save.
func (d *Directory) FlushIfDirty() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dirty {
		return nil
	}
	return d.saveLocked()
}

func (d *Directory) saveLocked() error {
	f := directoryFile{Cells: make(map[string]uint32, len(d.cells)), Next: d.next}
	for id, ord := range d.cells {
		f.Cells[id.String()] = ord
	}
	data, err := cbor.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode directory: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write directory: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write directory: %w", err)
	}
	d.dirty = false
	return nil
}
