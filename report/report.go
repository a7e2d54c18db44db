// Package report defines the JSON run record produced by benchmark and
// ingestion runs: the index configuration, insertion throughput over time,
// and per-query timing broken down by execution variant and level of
// detail. The field names are a stable external contract consumed by
// offline analysis tooling; changing them breaks existing plots.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/montanaflynn/stats"
)

// Query execution variant names. They differ in which acceleration stages
// run and whether exact point filtering is applied.
const (
	VariantRawSpatial            = "raw_spatial"
	VariantRawPointFiltering     = "raw_point_filtering"
	VariantOnlyNodeAcc           = "only_node_acc"
	VariantOnlyFullAcc           = "only_full_acc"
	VariantPointFilteringNodeAcc = "point_filtering_with_node_acc"
	VariantPointFilteringFullAcc = "point_filtering_with_full_acc"
)

// Variants lists all execution variants in canonical order.
func Variants() []string {
	return []string{
		VariantRawSpatial,
		VariantRawPointFiltering,
		VariantOnlyNodeAcc,
		VariantOnlyFullAcc,
		VariantPointFilteringNodeAcc,
		VariantPointFilteringFullAcc,
	}
}

// Run is one complete benchmark or ingestion run.
type Run struct {
	Timestamp time.Time   `json:"timestamp"`
	Index     IndexConfig `json:"index"`
	Results   Results     `json:"results"`
}

// Results groups the measured outcomes of a run.
type Results struct {
	InsertionRate    InsertionReport          `json:"insertion_rate"`
	QueryPerformance map[string]QueryReport   `json:"query_performance,omitempty"`
	Latency          map[string]LatencyReport `json:"latency,omitempty"`
}

// IndexConfig records the configuration the run used, so runs remain
// comparable after defaults change.
type IndexConfig struct {
	NumThreads         int    `json:"num_threads"`
	CacheSize          int    `json:"cache_size"`
	PriorityFunction   string `json:"priority_function"`
	NodeHierarchy      int    `json:"node_hierarchy"`
	PointsPerNode      int    `json:"points_per_node"`
	MaxLOD             int    `json:"max_lod"`
	MaxBogusInner      int    `json:"max_bogus_inner"`
	MaxBogusLeaf       int    `json:"max_bogus_leaf"`
	Encoding           string `json:"encoding"`
	AttributeIndexMode string `json:"attribute_index_mode"`
}

// InsertionReport summarizes the ingestion phase.
type InsertionReport struct {
	PointsPerSecond float64          `json:"insertion_rate_points_per_sec"`
	NrPoints        int64            `json:"nr_points"`
	NrDropped       int64            `json:"nr_dropped"`
	DurationSeconds float64          `json:"duration_seconds"`
	Progress        []ProgressSample `json:"progress_over_time,omitempty"`
}

// ProgressSample is one point on the ingestion progress curve.
// NrPointsRead counts the points handed to the index so far, NrPointsDone
// the points whose insertion tasks have completed; the difference is the
// backlog. GpsTime is the timestamp of the newest point read.
type ProgressSample struct {
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	NrPointsDone   int64   `json:"nr_points_done"`
	NrPointsRead   int64   `json:"nr_points_read"`
	GpsTime        float64 `json:"gps_time"`
}

// QueryReport aggregates the runs of one named query. The headline counts
// come from the unaccelerated spatial execution; each variant field holds
// that variant's mean execution time in seconds.
type QueryReport struct {
	NrPoints         int     `json:"nr_points"`
	NrNodes          int     `json:"nr_nodes"`
	NrNonEmptyNodes  int     `json:"nr_non_empty_nodes"`
	QueryTimeSeconds float64 `json:"query_time_seconds"`

	RawSpatial            float64 `json:"raw_spatial"`
	RawPointFiltering     float64 `json:"raw_point_filtering"`
	OnlyNodeAcc           float64 `json:"only_node_acc"`
	OnlyFullAcc           float64 `json:"only_full_acc"`
	PointFilteringNodeAcc float64 `json:"point_filtering_with_node_acc"`
	PointFilteringFullAcc float64 `json:"point_filtering_with_full_acc"`
}

// SetVariantSeconds stores a variant's timing under its canonical name.
func (q *QueryReport) SetVariantSeconds(variant string, seconds float64) error {
	switch variant {
	case VariantRawSpatial:
		q.RawSpatial = seconds
	case VariantRawPointFiltering:
		q.RawPointFiltering = seconds
	case VariantOnlyNodeAcc:
		q.OnlyNodeAcc = seconds
	case VariantOnlyFullAcc:
		q.OnlyFullAcc = seconds
	case VariantPointFilteringNodeAcc:
		q.PointFilteringNodeAcc = seconds
	case VariantPointFilteringFullAcc:
		q.PointFilteringFullAcc = seconds
	default:
		return fmt.Errorf("unknown query variant %q", variant)
	}
	return nil
}

// VariantSeconds returns the timing stored for a variant.
func (q *QueryReport) VariantSeconds(variant string) (float64, bool) {
	switch variant {
	case VariantRawSpatial:
		return q.RawSpatial, true
	case VariantRawPointFiltering:
		return q.RawPointFiltering, true
	case VariantOnlyNodeAcc:
		return q.OnlyNodeAcc, true
	case VariantOnlyFullAcc:
		return q.OnlyFullAcc, true
	case VariantPointFilteringNodeAcc:
		return q.PointFilteringNodeAcc, true
	case VariantPointFilteringFullAcc:
		return q.PointFilteringFullAcc, true
	default:
		return 0, false
	}
}

// LatencyReport holds a query's latency distribution, overall and per
// level of detail (keyed "LOD0", "LOD1", ...).
type LatencyReport struct {
	Stats      LatencyStats            `json:"stats"`
	StatsByLOD map[string]LatencyStats `json:"stats_by_lod,omitempty"`
}

// LatencyStats summarizes a latency sample. Percentiles is a list of
// [percentile, milliseconds] pairs; the final pair is [100, max].
type LatencyStats struct {
	Percentiles [][2]float64 `json:"percentiles"`
	MeanMs      float64      `json:"mean_ms"`
}

var latencyPercentiles = []float64{5, 25, 50, 75, 90, 95, 99}

// SummarizeLatencies reduces a sample of durations to a percentile list.
// An empty sample yields a zero summary.
func SummarizeLatencies(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}
	ms := make(stats.Float64Data, len(durations))
	for i, d := range durations {
		ms[i] = float64(d.Microseconds()) / 1000
	}
	out := LatencyStats{
		Percentiles: make([][2]float64, 0, len(latencyPercentiles)+1),
	}
	for _, pct := range latencyPercentiles {
		v, _ := ms.Percentile(pct)
		out.Percentiles = append(out.Percentiles, [2]float64{pct, v})
	}
	max, _ := ms.Max()
	out.Percentiles = append(out.Percentiles, [2]float64{100, max})
	out.MeanMs, _ = ms.Mean()
	return out
}

// Save writes the run record as indented JSON.
func (r *Run) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}

// Load reads a run record written by Save.
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run record: %w", err)
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode run record: %w", err)
	}
	return &r, nil
}
