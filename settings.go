package pointlake

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pointlake/pointlake/attrindex"
	"github.com/pointlake/pointlake/octree"
	"github.com/pointlake/pointlake/store"
)

const settingsFileName = "settings.json"

// Settings is the persisted configuration of an index. It is written to
// settings.json at creation time; structural fields (node hierarchy,
// encoding, attribute index mode, histogram shape) are fixed for the life
// of the index, the rest are tuning knobs re-read on every Open.
type Settings struct {
	// NumThreads is the size of the insertion worker pool.
	NumThreads int `json:"num_threads"`
	// CacheSize bounds the page cache, in pages.
	CacheSize int `json:"cache_size"`
	// PriorityFunction names the task scheduling priority. See the
	// Priority* constants in the octree package.
	PriorityFunction string `json:"priority_function"`
	// NodeHierarchy is the grid shift: root cells have edge length
	// 2^NodeHierarchy, halving per level.
	NodeHierarchy int `json:"node_hierarchy"`
	// PointsPerNode is the per-node point capacity before overflow.
	PointsPerNode int `json:"points_per_node"`
	// MaxLOD caps the tree depth.
	MaxLOD int `json:"max_lod"`
	// MaxBogusInner and MaxBogusLeaf bound the per-node overflow buffer.
	MaxBogusInner int `json:"max_bogus_inner"`
	MaxBogusLeaf  int `json:"max_bogus_leaf"`
	// Encoding selects the page payload encoding: raw, zstd or lz4.
	Encoding string `json:"encoding"`
	// AttributeIndexMode selects the attribute accelerators: None,
	// RangeIndexOnly, HistogramIndexOnly or All.
	AttributeIndexMode string `json:"attribute_index"`
	// Histograms fixes the histogram bin counts.
	Histograms attrindex.HistogramSettings `json:"histograms"`
	// MaxBacklog bounds queued points before InsertWithContext blocks.
	// 0 disables backpressure.
	MaxBacklog int `json:"max_backlog"`
	// FlushRetries is the number of retries for a failing flush.
	FlushRetries int `json:"flush_retries"`
	// GenerationTickMillis is the cadence of the scheduler's coarse
	// clock.
	GenerationTickMillis int `json:"generation_tick_millis"`
}

// DefaultSettings returns the configuration used when none is given.
func DefaultSettings() Settings {
	return Settings{
		NumThreads:           4,
		CacheSize:            512,
		PriorityFunction:     octree.PriorityNrPoints,
		NodeHierarchy:        17,
		PointsPerNode:        50_000,
		MaxLOD:               10,
		MaxBogusInner:        20_000,
		MaxBogusLeaf:         80_000,
		Encoding:             "zstd",
		AttributeIndexMode:   "All",
		Histograms:           attrindex.DefaultHistogramSettings(),
		MaxBacklog:           10_000_000,
		FlushRetries:         3,
		GenerationTickMillis: 100,
	}
}

// Validate checks the settings for internal consistency and resolvable
// enum names.
func (s *Settings) Validate() error {
	if _, err := store.ParseEncoding(s.Encoding); err != nil {
		return err
	}
	if _, err := attrindex.ParseMode(s.AttributeIndexMode); err != nil {
		return err
	}
	if _, err := octree.ParsePriorityFunction(s.PriorityFunction); err != nil {
		return err
	}
	if s.MaxLOD < 0 || s.MaxLOD > 255 {
		return fmt.Errorf("max_lod %d out of range", s.MaxLOD)
	}
	if s.PointsPerNode < 1 {
		return fmt.Errorf("points_per_node must be positive")
	}
	if s.CacheSize < 1 {
		return fmt.Errorf("cache_size must be positive")
	}
	return nil
}

func settingsPath(dir string) string {
	return filepath.Join(dir, settingsFileName)
}

func saveSettings(dir string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp := settingsPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, settingsPath(dir)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func loadSettings(dir string) (Settings, error) {
	data, err := os.ReadFile(settingsPath(dir))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("no index at %s: %w", dir, ErrNotFound)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}
