// Package octree implements the spatial index engine: streaming insertion
// into an octree of fixed-capacity nodes, and concurrent query execution
// over it.
//
// Insertion is task based. Incoming points are partitioned into per-cell
// inboxes; a pool of workers repeatedly takes the highest-priority inbox
// whose cell is not already being written, applies it to the node's page,
// and spills overflow into child inboxes. At most one worker ever writes a
// given cell, so node updates need no page-level locking beyond the cache's
// own. Queries run concurrently with insertion and see every point that has
// reached a page.
package octree
