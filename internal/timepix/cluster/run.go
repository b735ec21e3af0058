package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/banshee-data/timepix.report/internal/timepix"
)

// ctxCheckInterval is how many hits are processed between context checks.
const ctxCheckInterval = 1 << 14

// Run drains src through a fresh engine, emitting clusters as they finish.
// The context is checked between batches of hits; cancellation aborts the
// pass with ctx.Err().
func Run(ctx context.Context, params Params, src timepix.HitSource, emit EmitFunc) (Stats, error) {
	e, err := NewEngine(params, emit)
	if err != nil {
		return Stats{}, err
	}

	for n := 0; ; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return e.Stats(), err
			}
		}

		h, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return e.Stats(), fmt.Errorf("reading hit %d: %w", n, err)
		}
		if err := e.Push(h); err != nil {
			return e.Stats(), err
		}
	}

	if err := e.Flush(); err != nil {
		return e.Stats(), err
	}
	return e.Stats(), nil
}

// Cluster partitions an in-memory hit slice. Clusters are returned sorted by
// their first hit, and renumbered from 1 in that order, so equal input
// always yields an identical result.
func Cluster(params Params, hits []timepix.Hit) ([]timepix.Cluster, error) {
	var clusters []timepix.Cluster
	e, err := NewEngine(params, func(c timepix.Cluster) error {
		clusters = append(clusters, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, h := range hits {
		if err := e.Push(h); err != nil {
			return nil, err
		}
	}
	if err := e.Flush(); err != nil {
		return nil, err
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].HitIDs[0] < clusters[j].HitIDs[0]
	})
	for i := range clusters {
		clusters[i].ID = uint64(i + 1)
	}
	return clusters, nil
}
