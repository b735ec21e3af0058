// Package pipeline composes trigger window extraction with clustering.
//
// Responsibilities:
//   - Stream trigger windows out of a hit/trigger pair of sources.
//   - Cluster each window with its own engine, in parallel, on a bounded
//     worker pool.
//   - Translate window-local hit IDs back to positions in the hit stream.
//   - Deliver results in trigger order.
//
// Key types: TriggerClusterer, WindowClusters, Stats.
//
// Dependency rule: pipeline depends on timepix, cluster and trigger; none
// of them depend on pipeline.
package pipeline
