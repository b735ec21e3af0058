// Package cluster partitions a time-ordered hit stream into
// spatio-temporally connected clusters.
//
// Responsibilities: the sliding active window, the pixel grid used for
// neighbour lookup, the index-based union-find over arena slots, and
// emission of finished clusters.
// Key types: Engine, Params, Connectivity.
//
// Dependency rule: depends on internal/timepix only. No file, database or
// logging code is allowed in this package.
package cluster
