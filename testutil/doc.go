// Package testutil provides deterministic point cloud generators for tests
// and benchmarks.
package testutil
