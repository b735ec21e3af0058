package pipeline

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/timepix/cluster"
	"github.com/banshee-data/timepix.report/internal/timepix/trigger"
)

// DefaultBatchSize is the number of windows clustered per batch.
const DefaultBatchSize = 256

// WindowClusters is the clustering result for one trigger window. Cluster
// HitIDs refer to positions in the hit stream, the same IDs the window
// carries. Cluster IDs restart at 1 in every window.
type WindowClusters struct {
	Window   timepix.TriggerWindow
	Clusters []timepix.Cluster
	Filtered int // Clusters removed by the cluster filter
}

// EmitFunc receives results in trigger order. Returning an error aborts
// the run.
type EmitFunc func(WindowClusters) error

// Stats summarises one Run.
type Stats struct {
	Extract          trigger.Stats
	ClustersEmitted  uint64
	ClustersFiltered uint64
	Batches          int
}

// Option configures a TriggerClusterer.
type Option func(*TriggerClusterer)

// WithWorkers bounds the number of windows clustered concurrently. n <= 0
// selects GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(tc *TriggerClusterer) {
		if n <= 0 {
			n = runtime.GOMAXPROCS(0)
		}
		tc.workers = n
	}
}

// WithBatchSize sets how many windows are buffered before a batch is
// clustered. It bounds the windows held in memory.
func WithBatchSize(n int) Option {
	return func(tc *TriggerClusterer) {
		if n > 0 {
			tc.batchSize = n
		}
	}
}

// WithClusterFilter drops clusters failing f before emission.
func WithClusterFilter(f timepix.ClusterFilter) Option {
	return func(tc *TriggerClusterer) { tc.filter = f }
}

// TriggerClusterer clusters the hits of every trigger window separately.
// Windows are independent, so they are clustered concurrently; results are
// still delivered in trigger order.
type TriggerClusterer struct {
	clusterParams cluster.Params
	extractor     *trigger.Extractor
	filter        timepix.ClusterFilter
	workers       int
	batchSize     int
}

// NewTriggerClusterer validates both parameter sets before any input is
// read.
func NewTriggerClusterer(clusterParams cluster.Params, windowParams trigger.Params, opts ...Option) (*TriggerClusterer, error) {
	if err := clusterParams.Validate(); err != nil {
		return nil, err
	}
	x, err := trigger.NewExtractor(windowParams)
	if err != nil {
		return nil, err
	}
	tc := &TriggerClusterer{
		clusterParams: clusterParams,
		extractor:     x,
		workers:       runtime.GOMAXPROCS(0),
		batchSize:     DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc, nil
}

// Run sweeps hits and triggers once, clusters each window and passes the
// results to emit in trigger order.
func (tc *TriggerClusterer) Run(ctx context.Context, hits timepix.HitSource, triggers timepix.TriggerSource, emit EmitFunc) (Stats, error) {
	if emit == nil {
		emit = func(WindowClusters) error { return nil }
	}
	var stats Stats
	batch := make([]timepix.TriggerWindow, 0, tc.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		results, err := tc.clusterBatch(ctx, batch)
		if err != nil {
			return err
		}
		stats.Batches++
		for _, r := range results {
			stats.ClustersEmitted += uint64(len(r.Clusters))
			stats.ClustersFiltered += uint64(r.Filtered)
			if err := emit(r); err != nil {
				return err
			}
		}
		batch = batch[:0]
		return nil
	}

	xs, err := tc.extractor.Extract(ctx, hits, triggers, func(w timepix.TriggerWindow) error {
		batch = append(batch, w)
		if len(batch) < tc.batchSize {
			return nil
		}
		return flush()
	})
	stats.Extract = xs
	if err != nil {
		return stats, err
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// clusterBatch clusters every window of batch on the worker pool. results
// are indexed like batch.
func (tc *TriggerClusterer) clusterBatch(ctx context.Context, batch []timepix.TriggerWindow) ([]WindowClusters, error) {
	results := make([]WindowClusters, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tc.workers)

	for i := range batch {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := tc.clusterWindow(batch[i])
			if err != nil {
				return fmt.Errorf("trigger %d: %w", batch[i].Trigger.ID, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (tc *TriggerClusterer) clusterWindow(w timepix.TriggerWindow) (WindowClusters, error) {
	out := WindowClusters{Window: w}
	if len(w.Hits) == 0 {
		return out, nil
	}
	clusters, err := cluster.Cluster(tc.clusterParams, w.Hits)
	if err != nil {
		return out, err
	}

	kept := clusters[:0]
	for _, c := range clusters {
		// The engine numbered hits by their position in the window.
		for j, local := range c.HitIDs {
			c.HitIDs[j] = w.HitIDs[local]
		}
		if !tc.filter.Keep(c) {
			out.Filtered++
			continue
		}
		c.ID = uint64(len(kept) + 1)
		kept = append(kept, c)
	}
	out.Clusters = kept
	return out, nil
}
