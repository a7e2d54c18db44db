// Package attrindex accelerates attribute-filtered queries by classifying
// octree nodes before their pages are loaded.
//
// Two accelerators are maintained per node, independently switchable:
//
//   - value ranges: per-attribute min/max, cheap and small, applied first
//   - histograms: fixed-bin counts per attribute, tighter pruning at the
//     cost of index size, applied only when the range check is inconclusive
//
// In addition, histogram bins feed per-(attribute, bin) posting lists of
// node ordinals (roaring bitmaps), which give the query engine a global
// candidate set without touching every node.
//
// No accelerator ever produces a false negative: pruning may keep nodes
// that turn out to be empty for the query, but it never drops a node that
// could contain a match.
package attrindex
