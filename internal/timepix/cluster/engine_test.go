package cluster

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/timepix.report/internal/timepix"
)

func testParams(radius int, window uint64) Params {
	return Params{SpatialRadius: radius, TimeWindow: window, Connectivity: Eight}
}

// hitIDs flattens clusters to their member id lists.
func hitIDs(clusters []timepix.Cluster) [][]timepix.HitID {
	out := make([][]timepix.HitID, len(clusters))
	for i, c := range clusters {
		out[i] = c.HitIDs
	}
	return out
}

func TestCluster_TwoBursts(t *testing.T) {
	hits := []timepix.Hit{
		{X: 10, Y: 10, ToA: 100, ToT: 5},
		{X: 11, Y: 10, ToA: 101, ToT: 5},
		{X: 11, Y: 11, ToA: 102, ToT: 5},
		{X: 10, Y: 11, ToA: 500, ToT: 5},
		{X: 10, Y: 10, ToA: 501, ToT: 5},
	}

	clusters, err := Cluster(testParams(1, 10), hits)
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	want := [][]timepix.HitID{{0, 1, 2}, {3, 4}}
	if diff := cmp.Diff(want, hitIDs(clusters)); diff != "" {
		t.Errorf("partition mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(100), clusters[0].TMin)
	assert.Equal(t, uint64(102), clusters[0].TMax)
	assert.Equal(t, uint64(500), clusters[1].TMin)
	assert.Equal(t, uint64(1), clusters[0].ID)
	assert.Equal(t, uint64(2), clusters[1].ID)
}

func TestCluster_EmptyInput(t *testing.T) {
	clusters, err := Cluster(DefaultParams(), nil)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestCluster_Singleton(t *testing.T) {
	hits := []timepix.Hit{
		{X: 0, Y: 0, ToA: 1, ToT: 1},
		{X: 50, Y: 50, ToA: 2, ToT: 1},
	}
	clusters, err := Cluster(DefaultParams(), hits)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, 1, clusters[0].Size())
	assert.Equal(t, 1, clusters[1].Size())
}

func TestCluster_DuplicateHitsAreDistinct(t *testing.T) {
	h := timepix.Hit{X: 7, Y: 7, ToA: 40, ToT: 3}
	clusters, err := Cluster(DefaultParams(), []timepix.Hit{h, h})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, []timepix.HitID{0, 1}, clusters[0].HitIDs)
	assert.Equal(t, uint64(6), clusters[0].SumToT)
}

func TestCluster_ChainedAdjacency(t *testing.T) {
	// A and C are three pixels apart but joined through B.
	hits := []timepix.Hit{
		{X: 10, Y: 10, ToA: 0},
		{X: 11, Y: 10, ToA: 1},
		{X: 12, Y: 10, ToA: 2},
		{X: 13, Y: 10, ToA: 3},
	}
	clusters, err := Cluster(testParams(1, 5), hits)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 4, clusters[0].Size())
}

func TestCluster_TimeChainBeyondWindow(t *testing.T) {
	// Each consecutive pair is within the window, the ends are not.
	hits := []timepix.Hit{
		{X: 5, Y: 5, ToA: 0},
		{X: 5, Y: 5, ToA: 8},
		{X: 5, Y: 5, ToA: 16},
		{X: 5, Y: 5, ToA: 27}, // Gap of 11 > window
	}
	clusters, err := Cluster(testParams(0, 10), hits)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, []timepix.HitID{0, 1, 2}, clusters[0].HitIDs)
	assert.Equal(t, []timepix.HitID{3}, clusters[1].HitIDs)
}

func TestCluster_TimeWindowInclusive(t *testing.T) {
	hits := []timepix.Hit{{X: 1, Y: 1, ToA: 0}, {X: 1, Y: 1, ToA: 10}}
	clusters, err := Cluster(testParams(1, 10), hits)
	require.NoError(t, err)
	assert.Len(t, clusters, 1)
}

func TestCluster_Connectivity(t *testing.T) {
	diagonal := []timepix.Hit{{X: 3, Y: 3, ToA: 0}, {X: 4, Y: 4, ToA: 1}}

	p := testParams(1, 10)
	clusters, err := Cluster(p, diagonal)
	require.NoError(t, err)
	assert.Len(t, clusters, 1, "diagonal neighbours join under 8-connectivity")

	p.Connectivity = Four
	clusters, err = Cluster(p, diagonal)
	require.NoError(t, err)
	assert.Len(t, clusters, 2, "diagonal neighbours stay apart under 4-connectivity")

	p.SpatialRadius = 2
	clusters, err = Cluster(p, diagonal)
	require.NoError(t, err)
	assert.Len(t, clusters, 1, "Manhattan distance 2 within radius 2")
}

func TestCluster_RadiusZero(t *testing.T) {
	hits := []timepix.Hit{{X: 3, Y: 3, ToA: 0}, {X: 3, Y: 4, ToA: 1}, {X: 3, Y: 3, ToA: 2}}
	clusters, err := Cluster(testParams(0, 10), hits)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, []timepix.HitID{0, 2}, clusters[0].HitIDs)
}

func TestCluster_LargeRadiusAcrossCells(t *testing.T) {
	hits := []timepix.Hit{{X: 0, Y: 0, ToA: 0}, {X: 5, Y: 5, ToA: 1}, {X: 11, Y: 0, ToA: 2}}
	clusters, err := Cluster(testParams(5, 10), hits)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, []timepix.HitID{0, 1}, clusters[0].HitIDs)
}

func TestCluster_OrderingError(t *testing.T) {
	hits := []timepix.Hit{{ToA: 10}, {ToA: 12}, {ToA: 11}}
	_, err := Cluster(DefaultParams(), hits)
	require.Error(t, err)
	assert.True(t, errors.Is(err, timepix.ErrOrdering))

	var oe *timepix.OrderingError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, timepix.StreamHits, oe.Stream)
	assert.Equal(t, uint64(2), oe.Index)
	assert.Equal(t, uint64(12), oe.Previous)
	assert.Equal(t, uint64(11), oe.Current)
}

func TestEngine_StickyError(t *testing.T) {
	e, err := NewEngine(DefaultParams(), nil)
	require.NoError(t, err)
	require.NoError(t, e.Push(timepix.Hit{ToA: 5}))
	first := e.Push(timepix.Hit{ToA: 4})
	require.Error(t, first)
	assert.Equal(t, first, e.Push(timepix.Hit{ToA: 100}))
	assert.Equal(t, first, e.Flush())
}

func TestEngine_EmitErrorAborts(t *testing.T) {
	boom := errors.New("sink full")
	e, err := NewEngine(testParams(1, 1), func(timepix.Cluster) error { return boom })
	require.NoError(t, err)
	require.NoError(t, e.Push(timepix.Hit{ToA: 0}))
	err = e.Push(timepix.Hit{ToA: 100}) // Evicts and emits the first hit
	assert.ErrorIs(t, err, boom)
}

func TestEngine_EmitsWhenClusterCanNoLongerGrow(t *testing.T) {
	var got []timepix.Cluster
	e, err := NewEngine(testParams(1, 10), func(c timepix.Cluster) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, e.Push(timepix.Hit{X: 1, Y: 1, ToA: 0}))
	require.NoError(t, e.Push(timepix.Hit{X: 2, Y: 1, ToA: 5}))
	assert.Empty(t, got)

	// 15 - 5 = 10 keeps the second hit active, so nothing is emitted yet.
	require.NoError(t, e.Push(timepix.Hit{X: 100, Y: 100, ToA: 15}))
	assert.Empty(t, got)

	require.NoError(t, e.Push(timepix.Hit{X: 100, Y: 100, ToA: 16}))
	require.Len(t, got, 1)
	assert.Equal(t, []timepix.HitID{0, 1}, got[0].HitIDs)

	require.NoError(t, e.Flush())
	require.Len(t, got, 2)
	assert.Equal(t, []timepix.HitID{2, 3}, got[1].HitIDs)
	assert.Zero(t, e.grid.len())
}

func TestEngine_BoundedArena(t *testing.T) {
	e, err := NewEngine(testParams(1, 10), nil)
	require.NoError(t, err)

	// 100k hits, each burst far apart in time: the arena must stay tiny.
	for i := 0; i < 100_000; i++ {
		burst := uint64(i / 4)
		h := timepix.Hit{X: uint16(i % 4), Y: 0, ToA: burst*1000 + uint64(i%4)}
		require.NoError(t, e.Push(h))
	}
	require.NoError(t, e.Flush())

	st := e.Stats()
	assert.Equal(t, uint64(100_000), st.HitsProcessed)
	assert.Equal(t, uint64(25_000), st.ClustersEmitted)
	assert.LessOrEqual(t, st.PeakArena, 8)
	assert.LessOrEqual(t, st.PeakActive, 5)
}

func TestNewEngine_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		field  string
	}{
		{"zero window", Params{SpatialRadius: 1, TimeWindow: 0, Connectivity: Eight}, "time_window"},
		{"negative radius", Params{SpatialRadius: -1, TimeWindow: 1, Connectivity: Eight}, "spatial_radius"},
		{"bad connectivity", Params{SpatialRadius: 1, TimeWindow: 1, Connectivity: 6}, "connectivity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.params, nil)
			var ce *timepix.ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestRun_Source(t *testing.T) {
	src := timepix.NewSliceHitSource([]timepix.Hit{
		{X: 1, Y: 1, ToA: 100}, {X: 2, Y: 1, ToA: 101}, {X: 9, Y: 9, ToA: 900},
	})
	var sizes []int
	st, err := Run(context.Background(), testParams(1, 10), src, func(c timepix.Cluster) error {
		sizes = append(sizes, c.Size())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, sizes)
	assert.Equal(t, uint64(3), st.HitsProcessed)
	assert.Equal(t, uint64(2), st.ClustersEmitted)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, DefaultParams(), timepix.NewSliceHitSource([]timepix.Hit{{ToA: 1}}), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// referencePartition clusters by comparing every pair of hits. It defines
// the expected result for the randomised tests.
func referencePartition(p Params, hits []timepix.Hit) [][]timepix.HitID {
	parent := make([]int, len(hits))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			i = parent[i]
		}
		return i
	}
	for j := range hits {
		for i := 0; i < j; i++ {
			if hits[j].ToA-hits[i].ToA > p.TimeWindow {
				continue
			}
			dx := int(hits[j].X) - int(hits[i].X)
			dy := int(hits[j].Y) - int(hits[i].Y)
			if p.Connectivity.Within(dx, dy, p.SpatialRadius) {
				ri, rj := find(i), find(j)
				if ri != rj {
					if ri < rj {
						parent[rj] = ri
					} else {
						parent[ri] = rj
					}
				}
			}
		}
	}
	groups := map[int][]timepix.HitID{}
	for i := range hits {
		r := find(i)
		groups[r] = append(groups[r], timepix.HitID(i))
	}
	out := make([][]timepix.HitID, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func randomHits(rng *rand.Rand, n int, extent int, maxStep uint64) []timepix.Hit {
	hits := make([]timepix.Hit, n)
	var toa uint64
	for i := range hits {
		toa += uint64(rng.Int63n(int64(maxStep) + 1))
		hits[i] = timepix.Hit{
			X:   uint16(rng.Intn(extent)),
			Y:   uint16(rng.Intn(extent)),
			ToA: toa,
			ToT: uint32(rng.Intn(50)),
		}
	}
	return hits
}

func TestCluster_MatchesPairwiseReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, p := range []Params{
		testParams(1, 5),
		testParams(0, 3),
		testParams(3, 20),
		{SpatialRadius: 2, TimeWindow: 8, Connectivity: Four},
	} {
		for trial := 0; trial < 10; trial++ {
			hits := randomHits(rng, 400, 20, 3)
			clusters, err := Cluster(p, hits)
			require.NoError(t, err)

			if diff := cmp.Diff(referencePartition(p, hits), hitIDs(clusters)); diff != "" {
				t.Fatalf("params %+v trial %d: partition mismatch (-want +got):\n%s", p, trial, diff)
			}
		}
	}
}

func TestCluster_PartitionLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	hits := randomHits(rng, 5000, 64, 2)

	clusters, err := Cluster(DefaultParams(), hits)
	require.NoError(t, err)

	seen := make([]bool, len(hits))
	total := 0
	for _, c := range clusters {
		require.NotZero(t, c.Size())
		for i, id := range c.HitIDs {
			require.False(t, seen[id], "hit %d in more than one cluster", id)
			seen[id] = true
			assert.Equal(t, hits[id], c.Hits[i])
		}
		total += c.Size()
	}
	assert.Equal(t, len(hits), total)
}

func TestCluster_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	hits := randomHits(rng, 3000, 32, 2)

	first, err := Cluster(DefaultParams(), hits)
	require.NoError(t, err)
	second, err := Cluster(DefaultParams(), hits)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-run differs (-first +second):\n%s", diff)
	}
}
