package pointlake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pointlake/pointlake/attrindex"
	"github.com/pointlake/pointlake/cache"
	"github.com/pointlake/pointlake/geom"
	"github.com/pointlake/pointlake/model"
	"github.com/pointlake/pointlake/octree"
	"github.com/pointlake/pointlake/query"
	"github.com/pointlake/pointlake/report"
	"github.com/pointlake/pointlake/store"
)

// QueryOptions tunes a single query.
type QueryOptions = octree.ExecOptions

// Result is the outcome of a query.
type Result = octree.Result

// LODBatch is one level's worth of results on a streaming query.
type LODBatch = octree.LODBatch

// Stats is a snapshot of the index's operational counters.
type Stats = octree.Stats

// Index is an opened point cloud index. All methods are safe for
// concurrent use; insertion and queries may run at the same time.
type Index struct {
	dir      string
	settings Settings
	logger   *Logger
	engine   *octree.Engine
}

// Create initializes a new index in dir and opens it. The directory is
// created if needed; it must not already contain an index.
func Create(dir string, settings Settings, optFns ...Option) (*Index, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if _, err := os.Stat(settingsPath(dir)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, dir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat settings: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	if err := saveSettings(dir, settings); err != nil {
		return nil, err
	}
	return open(dir, settings, optFns)
}

// Open opens the index in dir using the settings it was created with.
func Open(dir string, optFns ...Option) (*Index, error) {
	settings, err := loadSettings(dir)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", dir, err)
	}
	return open(dir, settings, optFns)
}

func open(dir string, settings Settings, optFns []Option) (*Index, error) {
	o := applyOptions(optFns)

	encoding, err := store.ParseEncoding(settings.Encoding)
	if err != nil {
		return nil, err
	}
	mode, err := attrindex.ParseMode(settings.AttributeIndexMode)
	if err != nil {
		return nil, err
	}
	prio, err := octree.ParsePriorityFunction(settings.PriorityFunction)
	if err != nil {
		return nil, err
	}

	pageStore, err := store.NewPageStore(filepath.Join(dir, "pages"), encoding)
	if err != nil {
		return nil, translateError(err)
	}
	cellDir, err := store.OpenDirectory(filepath.Join(dir, "directory.bin"))
	if err != nil {
		return nil, translateError(err)
	}
	attrIndex, err := attrindex.Open(filepath.Join(dir, "attr_index.bin"), mode, settings.Histograms)
	if err != nil {
		return nil, translateError(err)
	}

	pageCache := cache.New(pageStore, settings.CacheSize, o.logger.Logger)
	engine := octree.New(pageCache, cellDir, attrIndex, octree.Params{
		Grid:           geom.NewGridHierarchy(settings.NodeHierarchy),
		PointsPerNode:  settings.PointsPerNode,
		MaxLOD:         model.LOD(settings.MaxLOD),
		MaxBogusInner:  settings.MaxBogusInner,
		MaxBogusLeaf:   settings.MaxBogusLeaf,
		NumWorkers:     settings.NumThreads,
		MaxBacklog:     settings.MaxBacklog,
		Priority:       prio,
		GenerationTick: time.Duration(settings.GenerationTickMillis) * time.Millisecond,
		FlushRetries:   settings.FlushRetries,
	}, o.logger.Logger, o.collector)

	return &Index{
		dir:      dir,
		settings: settings,
		logger:   o.logger,
		engine:   engine,
	}, nil
}

// Insert queues points for insertion. Points become queryable once their
// insertion tasks have been processed; call Flush to also make them
// durable.
func (x *Index) Insert(points []model.Point) error {
	return x.InsertWithContext(context.Background(), points)
}

// InsertWithContext queues points for insertion, blocking while the
// insertion backlog is above the configured bound.
func (x *Index) InsertWithContext(ctx context.Context, points []model.Point) error {
	err := translateError(x.engine.InsertWithContext(ctx, points))
	x.logger.LogInsert(ctx, len(points), err)
	return err
}

// Query runs a query against the current state of the index. When ctx
// carries a deadline that expires mid-query, the result holds the points
// collected so far with Result.Partial set.
func (x *Index) Query(ctx context.Context, q query.Query, opts QueryOptions) (*Result, error) {
	res, err := x.engine.Execute(ctx, q, opts)
	if err != nil {
		err = translateError(err)
		x.logger.LogQuery(ctx, q.String(), 0, 0, 0, err)
		return nil, err
	}
	x.logger.LogQuery(ctx, q.String(), len(res.Points), res.NrNodes, res.QueryTime, nil)
	return res, nil
}

// QueryStream runs a query and delivers results level by level, coarsest
// first, on the returned channel. The channel closes when the traversal
// finishes.
func (x *Index) QueryStream(ctx context.Context, q query.Query, opts QueryOptions) <-chan LODBatch {
	return x.engine.ExecuteStream(ctx, q, opts)
}

// Flush waits for the insertion backlog to drain and persists all dirty
// state: pages, the cell directory and the attribute index.
func (x *Index) Flush(ctx context.Context) error {
	start := time.Now()
	err := translateError(x.engine.Flush(ctx))
	x.logger.LogFlush(ctx, time.Since(start), err)
	return err
}

// Close drains the insertion backlog, persists all state and releases the
// index. Close is idempotent.
func (x *Index) Close() error {
	if x == nil {
		return nil
	}
	return translateError(x.engine.Close())
}

// Stats returns a snapshot of the index's operational counters.
func (x *Index) Stats() Stats {
	return x.engine.Stats()
}

// Settings returns the settings the index was opened with.
func (x *Index) Settings() Settings {
	return x.settings
}

// Dir returns the index's data directory.
func (x *Index) Dir() string {
	return x.dir
}

// ReportConfig returns the index configuration in run-record form.
func (x *Index) ReportConfig() report.IndexConfig {
	s := x.settings
	return report.IndexConfig{
		NumThreads:         s.NumThreads,
		CacheSize:          s.CacheSize,
		PriorityFunction:   s.PriorityFunction,
		NodeHierarchy:      s.NodeHierarchy,
		PointsPerNode:      s.PointsPerNode,
		MaxLOD:             s.MaxLOD,
		MaxBogusInner:      s.MaxBogusInner,
		MaxBogusLeaf:       s.MaxBogusLeaf,
		Encoding:           s.Encoding,
		AttributeIndexMode: s.AttributeIndexMode,
	}
}
