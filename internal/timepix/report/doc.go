// Package report turns hits and clusters into run summaries: per-pixel
// maps with hot pixel lists, summary statistics, PNG plots and an HTML
// overview page.
package report
