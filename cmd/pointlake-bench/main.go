// Command pointlake-bench measures insertion throughput and query latency
// of a pointlake index and writes the results as a JSON run record.
//
// Configuration is taken from the environment (prefix POINTLAKE_), with an
// optional .env file in the working directory. Example:
//
//	POINTLAKE_POINTS=1000000 POINTLAKE_RATE=300000 pointlake-bench
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/pointlake/pointlake"
	"github.com/pointlake/pointlake/attrindex"
	"github.com/pointlake/pointlake/geom"
	"github.com/pointlake/pointlake/metrics"
	"github.com/pointlake/pointlake/model"
	"github.com/pointlake/pointlake/query"
	"github.com/pointlake/pointlake/report"
	"github.com/pointlake/pointlake/testutil"
)

type config struct {
	DataDir   string  `envconfig:"DATA_DIR" default:""`
	Output    string  `envconfig:"OUTPUT" default:"run.json"`
	Points    int     `envconfig:"POINTS" default:"1000000"`
	BatchSize int     `envconfig:"BATCH_SIZE" default:"10000"`
	Rate      int     `envconfig:"RATE" default:"0"` // points/s replay rate, 0 = unthrottled
	Extent    float64 `envconfig:"EXTENT" default:"1024"`
	Seed      int64   `envconfig:"SEED" default:"42"`
	QueryRuns int     `envconfig:"QUERY_RUNS" default:"20"`

	NumThreads    int    `envconfig:"NUM_THREADS" default:"4"`
	CacheSize     int    `envconfig:"CACHE_SIZE" default:"512"`
	Priority      string `envconfig:"PRIORITY" default:"NrPoints"`
	NodeHierarchy int    `envconfig:"NODE_HIERARCHY" default:"8"`
	PointsPerNode int    `envconfig:"POINTS_PER_NODE" default:"50000"`
	MaxLOD        int    `envconfig:"MAX_LOD" default:"10"`
	Encoding      string `envconfig:"ENCODING" default:"zstd"`
	AttrIndex     string `envconfig:"ATTR_INDEX" default:"All"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:""` // e.g. :9090 to expose /metrics
	MetricsFile string `envconfig:"METRICS_FILE" default:""` // CBOR backlog recording
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pointlake-bench:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	var cfg config
	if err := envconfig.Process("pointlake", &cfg); err != nil {
		return fmt.Errorf("read configuration: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger := pointlake.NewTextLogger(level)

	dataDir := cfg.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = os.MkdirTemp("", "pointlake-bench-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dataDir)
	}

	collectors := []metrics.Collector{}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		collectors = append(collectors, metrics.NewPrometheusCollector(reg))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}
	if cfg.MetricsFile != "" {
		f, err := os.Create(cfg.MetricsFile)
		if err != nil {
			return fmt.Errorf("create metrics file: %w", err)
		}
		defer f.Close()
		rec := metrics.NewCBORCollector(f)
		defer rec.Close()
		collectors = append(collectors, rec)
	}

	settings := pointlake.DefaultSettings()
	settings.NumThreads = cfg.NumThreads
	settings.CacheSize = cfg.CacheSize
	settings.PriorityFunction = cfg.Priority
	settings.NodeHierarchy = cfg.NodeHierarchy
	settings.PointsPerNode = cfg.PointsPerNode
	settings.MaxLOD = cfg.MaxLOD
	settings.Encoding = cfg.Encoding
	settings.AttributeIndexMode = cfg.AttrIndex

	opts := []pointlake.Option{pointlake.WithLogger(logger)}
	if len(collectors) > 0 {
		opts = append(opts, pointlake.WithMetricsCollector(metrics.Multi(collectors...)))
	}
	idx, err := pointlake.Create(dataDir, settings, opts...)
	if err != nil {
		return err
	}
	defer idx.Close()

	run := &report.Run{
		Timestamp: time.Now().UTC(),
		Index:     idx.ReportConfig(),
		Results: report.Results{
			QueryPerformance: make(map[string]report.QueryReport),
			Latency:          make(map[string]report.LatencyReport),
		},
	}

	bounds := geom.NewAABB(r3.Vector{}, r3.Vector{X: cfg.Extent, Y: cfg.Extent, Z: cfg.Extent / 8})
	rng := testutil.NewRNG(cfg.Seed)

	insertion, err := replay(idx, rng, bounds, cfg, logger)
	if err != nil {
		return err
	}
	run.Results.InsertionRate = *insertion

	for name, bench := range benchQueries(bounds) {
		rep, lat, err := benchmarkQuery(idx, bench, cfg.QueryRuns)
		if err != nil {
			return fmt.Errorf("benchmark query %s: %w", name, err)
		}
		run.Results.QueryPerformance[name] = *rep
		run.Results.Latency[name] = *lat
	}

	if err := run.Save(cfg.Output); err != nil {
		return err
	}
	logger.Info("run record written",
		"output", cfg.Output,
		"points", run.Results.InsertionRate.NrPoints,
		"points_per_second", int(run.Results.InsertionRate.PointsPerSecond),
	)
	return nil
}

// replay feeds generated points into the index in batches, optionally
// throttled to a fixed point rate, and samples ingestion progress once per
// second.
func replay(idx *pointlake.Index, rng *testutil.RNG, bounds geom.AABB, cfg config, logger *pointlake.Logger) (*report.InsertionReport, error) {
	ctx := context.Background()
	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.BatchSize)
	}

	start := time.Now()
	rep := &report.InsertionReport{}
	nextSample := time.Second

	var (
		read    int64
		gpsTime float64
	)
	remaining := cfg.Points
	for remaining > 0 {
		n := cfg.BatchSize
		if n > remaining {
			n = remaining
		}
		if limiter != nil {
			if err := limiter.WaitN(ctx, n); err != nil {
				return nil, err
			}
		}
		batch := rng.UniformPoints(n, bounds)
		read += int64(len(batch))
		for _, p := range batch {
			if p.GpsTime > gpsTime {
				gpsTime = p.GpsTime
			}
		}
		if err := idx.Insert(batch); err != nil {
			return nil, err
		}
		remaining -= n

		if elapsed := time.Since(start); elapsed >= nextSample {
			stats := idx.Stats()
			rep.Progress = append(rep.Progress, report.ProgressSample{
				ElapsedSeconds: elapsed.Seconds(),
				NrPointsDone:   stats.InsertedPoints - int64(stats.BacklogPoints),
				NrPointsRead:   read,
				GpsTime:        gpsTime,
			})
			nextSample = elapsed + time.Second
		}
	}
	if err := idx.Flush(ctx); err != nil {
		return nil, err
	}

	stats := idx.Stats()
	rep.NrPoints = stats.InsertedPoints
	rep.NrDropped = stats.DroppedPoints
	rep.DurationSeconds = time.Since(start).Seconds()
	if rep.DurationSeconds > 0 {
		rep.PointsPerSecond = float64(rep.NrPoints) / rep.DurationSeconds
	}
	logger.Info("ingestion finished",
		"points", rep.NrPoints,
		"dropped", rep.NrDropped,
		"duration", time.Since(start).String(),
		"nodes", stats.NrNodes,
	)
	return rep, nil
}

type benchQuery struct {
	query  query.Query
	filter *attrindex.Bounds
}

// benchQueries builds the standard query set evaluated against every run:
// a spatial octant, an attribute filter, and a combined query at limited
// depth.
func benchQueries(bounds geom.AABB) map[string]benchQuery {
	center := bounds.Center()
	octant := geom.NewAABB(bounds.Min, center)
	groundFilter := attrindex.NewFilter().
		WithClassification(model.ClassGround, model.ClassGround)
	intensityFilter := attrindex.NewFilter().WithIntensity(30_000, 65_535)

	return map[string]benchQuery{
		"octant": {
			query: query.Aabb(octant),
		},
		"ground_classification": {
			query:  query.Attribute(groundFilter),
			filter: groundFilter,
		},
		"high_intensity_octant_lod4": {
			query: query.And(
				query.Aabb(octant),
				query.Lod(4),
				query.Attribute(intensityFilter),
			),
			filter: intensityFilter,
		},
	}
}

// variantOptions maps an execution variant name to query options.
func variantOptions(variant string, filter *attrindex.Bounds) pointlake.QueryOptions {
	switch variant {
	case report.VariantRawSpatial:
		return pointlake.QueryOptions{}
	case report.VariantRawPointFiltering:
		return pointlake.QueryOptions{PointFilter: true}
	case report.VariantOnlyNodeAcc:
		return pointlake.QueryOptions{Acceleration: attrindex.ModeRangeOnly}
	case report.VariantOnlyFullAcc:
		return pointlake.QueryOptions{Acceleration: attrindex.ModeAll, Filter: filter}
	case report.VariantPointFilteringNodeAcc:
		return pointlake.QueryOptions{Acceleration: attrindex.ModeRangeOnly, PointFilter: true}
	case report.VariantPointFilteringFullAcc:
		return pointlake.QueryOptions{Acceleration: attrindex.ModeAll, PointFilter: true, Filter: filter}
	default:
		return pointlake.QueryOptions{}
	}
}

func benchmarkQuery(idx *pointlake.Index, bench benchQuery, runs int) (*report.QueryReport, *report.LatencyReport, error) {
	rep := &report.QueryReport{}
	lat := &report.LatencyReport{StatsByLOD: make(map[string]report.LatencyStats)}
	for _, variant := range report.Variants() {
		opts := variantOptions(variant, bench.filter)
		var (
			latencies []time.Duration
			byLOD     = make(map[string][]time.Duration)
			last      *pointlake.Result
		)
		for i := 0; i < runs; i++ {
			res, err := idx.Query(context.Background(), bench.query, opts)
			if err != nil {
				return nil, nil, err
			}
			latencies = append(latencies, res.QueryTime)
			for lod, d := range res.LatencyByLOD {
				byLOD[lod.String()] = append(byLOD[lod.String()], d)
			}
			last = res
		}
		if err := rep.SetVariantSeconds(variant, meanSeconds(latencies)); err != nil {
			return nil, nil, err
		}
		// The headline counts and the latency distribution come from the
		// unaccelerated spatial baseline.
		if variant == report.VariantRawSpatial && last != nil {
			rep.NrPoints = len(last.Points)
			rep.NrNodes = last.NrNodes
			rep.NrNonEmptyNodes = last.NrNonEmptyNodes
			rep.QueryTimeSeconds = last.QueryTime.Seconds()
			lat.Stats = report.SummarizeLatencies(latencies)
			for lod, ds := range byLOD {
				lat.StatsByLOD[lod] = report.SummarizeLatencies(ds)
			}
		}
	}
	return rep, lat, nil
}

func meanSeconds(durations []time.Duration) float64 {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total.Seconds() / float64(len(durations))
}
