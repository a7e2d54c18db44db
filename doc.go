// Package pointlake provides an embedded spatial index for streaming
// LiDAR point clouds.
//
// Points are ingested into an octree of fixed-capacity nodes and become
// queryable while ingestion is still running. Queries combine spatial
// bounds, level-of-detail limits and attribute filters, and can be
// accelerated by a per-node attribute index (value ranges and histograms)
// that prunes subtrees before their pages are loaded.
//
// # Quick Start
//
// Create an index and ingest points:
//
//	idx, err := pointlake.Create("./data", pointlake.DefaultSettings())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer idx.Close()
//
//	if err := idx.Insert(points); err != nil {
//	    log.Fatal(err)
//	}
//
// Query a region at coarse detail, filtered to ground returns:
//
//	q := query.And(
//	    query.Aabb(geom.NewAABB(min, max)),
//	    query.Lod(4),
//	    query.Attribute(attrindex.NewFilter().
//	        WithClassification(model.ClassGround, model.ClassGround)),
//	)
//	res, err := idx.Query(ctx, q, pointlake.QueryOptions{
//	    Acceleration: attrindex.ModeAll,
//	    PointFilter:  true,
//	})
//
// Re-open an existing index:
//
//	idx, err := pointlake.Open("./data")
//
// The data directory is self-describing: settings.json records the
// configuration the index was created with, and Open refuses settings
// that conflict with it.
package pointlake
