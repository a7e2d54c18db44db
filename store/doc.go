// Package store persists octree nodes as page files on disk.
//
// Every node owns exactly one page file named after its CellID, which gives
// page-level isolation between concurrent writers of distinct nodes for
// free. Pages carry a checksummed, optionally compressed binary encoding of
// the node's point records. The encoding is chosen when the index is
// created and fixed for the index's lifetime.
//
// The page store is the single source of truth; the page cache and the
// attribute index are derived views that can be rebuilt from it.
package store
