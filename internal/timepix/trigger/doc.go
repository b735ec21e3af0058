// Package trigger attributes hits to per-trigger time windows.
//
// Responsibilities: the dual-cursor sweep over the hit and trigger
// streams, window open/close bookkeeping, and the overlap policies.
// Key types: Extractor, Params, OverlapPolicy.
//
// Dependency rule: depends on internal/timepix only.
package trigger
