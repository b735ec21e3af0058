package trigger

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/timepix.report/internal/timepix"
)

func hitsAt(toas ...uint64) []timepix.Hit {
	hits := make([]timepix.Hit, len(toas))
	for i, toa := range toas {
		hits[i] = timepix.Hit{X: uint16(i), Y: 1, ToA: toa, ToT: 10}
	}
	return hits
}

func triggersAt(timestamps ...uint64) []timepix.Trigger {
	triggers := make([]timepix.Trigger, len(timestamps))
	for i, ts := range timestamps {
		triggers[i] = timepix.Trigger{ID: uint32(i + 1), Timestamp: ts}
	}
	return triggers
}

func windowToAs(w timepix.TriggerWindow) []uint64 {
	out := []uint64{}
	for _, h := range w.Hits {
		out = append(out, h.ToA)
	}
	return out
}

func TestExtract_DisjointWindows(t *testing.T) {
	params := Params{PreWindow: 5, PostWindow: 5}
	windows, err := ExtractAll(params, hitsAt(97, 103, 598, 603), triggersAt(100, 600))
	require.NoError(t, err)
	require.Len(t, windows, 2)

	assert.Equal(t, uint64(95), windows[0].Start)
	assert.Equal(t, uint64(105), windows[0].End)
	assert.Equal(t, []uint64{97, 103}, windowToAs(windows[0]))
	assert.Equal(t, []timepix.HitID{0, 1}, windows[0].HitIDs)

	assert.Equal(t, uint64(595), windows[1].Start)
	assert.Equal(t, uint64(605), windows[1].End)
	assert.Equal(t, []uint64{598, 603}, windowToAs(windows[1]))
	assert.Equal(t, []timepix.HitID{2, 3}, windows[1].HitIDs)
	assert.Zero(t, windows[0].Contested)
}

func TestExtract_OverlapPolicies(t *testing.T) {
	triggers := triggersAt(100, 108) // [95,105] and [103,113]
	hits := hitsAt(104)

	tests := []struct {
		policy OverlapPolicy
		first  []uint64
		second []uint64
	}{
		{Independent, []uint64{104}, []uint64{104}},
		{SplitAtMidpoint, []uint64{104}, []uint64{}},
		{Exclusive, []uint64{}, []uint64{}},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			windows, err := ExtractAll(Params{PreWindow: 5, PostWindow: 5, Policy: tt.policy}, hits, triggers)
			require.NoError(t, err)
			require.Len(t, windows, 2)
			assert.Equal(t, tt.first, windowToAs(windows[0]))
			assert.Equal(t, tt.second, windowToAs(windows[1]))
			assert.Equal(t, 1, windows[0].Contested)
			assert.Equal(t, 1, windows[1].Contested)
		})
	}
}

func TestExtract_SplitAtMidpointNearest(t *testing.T) {
	// Windows [90,110] and [100,120] overlap on [100,110]; midpoint is 105.
	params := Params{PreWindow: 10, PostWindow: 10, Policy: SplitAtMidpoint}
	windows, err := ExtractAll(params, hitsAt(95, 100, 104, 105, 106, 110, 115), triggersAt(100, 110))
	require.NoError(t, err)
	assert.Equal(t, []uint64{95, 100, 104, 105}, windowToAs(windows[0]))
	assert.Equal(t, []uint64{106, 110, 115}, windowToAs(windows[1]))
}

func TestExtract_EmptyInputs(t *testing.T) {
	windows, err := ExtractAll(Params{PreWindow: 5, PostWindow: 5}, nil, triggersAt(10, 20, 30))
	require.NoError(t, err)
	require.Len(t, windows, 3)
	for i, w := range windows {
		assert.Equal(t, uint32(i+1), w.Trigger.ID)
		assert.Zero(t, w.Size())
	}

	windows, err = ExtractAll(Params{}, hitsAt(1, 2, 3), nil)
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestExtract_TriggerWithoutHits(t *testing.T) {
	// The middle trigger falls in a gap between hits.
	windows, err := ExtractAll(Params{PreWindow: 2, PostWindow: 2}, hitsAt(10, 11, 90), triggersAt(10, 50, 90))
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.Equal(t, []uint64{10, 11}, windowToAs(windows[0]))
	assert.Empty(t, windows[1].Hits)
	assert.Equal(t, uint32(2), windows[1].Trigger.ID)
	assert.Equal(t, []uint64{90}, windowToAs(windows[2]))
}

func TestExtract_StartSaturates(t *testing.T) {
	windows, err := ExtractAll(Params{PreWindow: 100, PostWindow: 1}, hitsAt(0, 3, 7), triggersAt(5))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, uint64(0), windows[0].Start)
	assert.Equal(t, []uint64{0, 3}, windowToAs(windows[0]))
}

func TestExtract_OrderingErrors(t *testing.T) {
	params := Params{PreWindow: 5, PostWindow: 5}

	tests := []struct {
		name     string
		hits     []timepix.Hit
		triggers []timepix.Trigger
		stream   string
		field    string
		index    uint64
	}{
		{
			name:     "hit toa decreases",
			hits:     hitsAt(10, 9),
			triggers: triggersAt(10),
			stream:   timepix.StreamHits,
			field:    "toa",
			index:    1,
		},
		{
			name:     "trigger timestamp repeats",
			hits:     hitsAt(10, 40),
			triggers: []timepix.Trigger{{ID: 1, Timestamp: 20}, {ID: 2, Timestamp: 20}},
			stream:   timepix.StreamTriggers,
			field:    "timestamp",
			index:    1,
		},
		{
			name:     "trigger id decreases",
			hits:     hitsAt(10),
			triggers: []timepix.Trigger{{ID: 5, Timestamp: 20}, {ID: 4, Timestamp: 30}},
			stream:   timepix.StreamTriggers,
			field:    "id",
			index:    1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractAll(params, tt.hits, tt.triggers)
			require.Error(t, err)
			assert.True(t, errors.Is(err, timepix.ErrOrdering))

			var oe *timepix.OrderingError
			require.True(t, errors.As(err, &oe))
			assert.Equal(t, tt.stream, oe.Stream)
			assert.Equal(t, tt.field, oe.Field)
			assert.Equal(t, tt.index, oe.Index)
		})
	}
}

func TestExtract_EmitErrorAborts(t *testing.T) {
	x, err := NewExtractor(Params{PreWindow: 1, PostWindow: 1})
	require.NoError(t, err)
	boom := errors.New("disk full")
	_, err = x.Extract(context.Background(),
		timepix.NewSliceHitSource(hitsAt(10, 50)),
		timepix.NewSliceTriggerSource(triggersAt(10, 50)),
		func(timepix.TriggerWindow) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestExtract_Stats(t *testing.T) {
	x, err := NewExtractor(Params{PreWindow: 5, PostWindow: 5, Policy: Exclusive})
	require.NoError(t, err)
	st, err := x.Extract(context.Background(),
		timepix.NewSliceHitSource(hitsAt(1, 97, 104, 110, 500)),
		timepix.NewSliceTriggerSource(triggersAt(100, 108)),
		nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), st.HitsRead)
	assert.Equal(t, uint64(2), st.HitsOutside)
	assert.Equal(t, uint64(1), st.HitsContested)
	assert.Equal(t, uint64(1), st.HitsDropped)
	assert.Equal(t, uint64(2), st.HitsAssigned)
	assert.Equal(t, uint64(2), st.TriggersRead)
	assert.Equal(t, uint64(2), st.WindowsEmitted)
	assert.Equal(t, 2, st.PeakOpen)
}

func TestExtract_Cancelled(t *testing.T) {
	x, err := NewExtractor(Params{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = x.Extract(ctx, timepix.NewSliceHitSource(hitsAt(1)), timepix.NewSliceTriggerSource(nil), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// referenceWindows assigns hits by checking every trigger for every hit.
func referenceWindows(p Params, hits []timepix.Hit, triggers []timepix.Trigger) [][]timepix.HitID {
	out := make([][]timepix.HitID, len(triggers))
	for i := range out {
		out[i] = []timepix.HitID{}
	}
	for id, h := range hits {
		var in []int
		for i, tr := range triggers {
			start, end := timepix.WindowBounds(tr.Timestamp, p.PreWindow, p.PostWindow)
			if h.ToA >= start && h.ToA <= end {
				in = append(in, i)
			}
		}
		if len(in) == 0 {
			continue
		}
		if len(in) == 1 {
			out[in[0]] = append(out[in[0]], timepix.HitID(id))
			continue
		}
		switch p.Policy {
		case Independent:
			for _, i := range in {
				out[i] = append(out[i], timepix.HitID(id))
			}
		case SplitAtMidpoint:
			best := in[0]
			for _, i := range in[1:] {
				if distance(triggers[i].Timestamp, h.ToA) < distance(triggers[best].Timestamp, h.ToA) {
					best = i
				}
			}
			out[best] = append(out[best], timepix.HitID(id))
		}
	}
	return out
}

func randomStreams(rng *rand.Rand) ([]timepix.Hit, []timepix.Trigger) {
	var hits []timepix.Hit
	var toa uint64
	for i := 0; i < 500; i++ {
		toa += uint64(rng.Intn(4))
		hits = append(hits, timepix.Hit{X: uint16(rng.Intn(256)), ToA: toa})
	}
	var triggers []timepix.Trigger
	var ts uint64
	for i := 0; i < 60; i++ {
		ts += 1 + uint64(rng.Intn(40))
		triggers = append(triggers, timepix.Trigger{ID: uint32(i), Timestamp: ts})
	}
	return hits, triggers
}

func TestExtract_MatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 20; trial++ {
		hits, triggers := randomStreams(rng)
		for _, policy := range []OverlapPolicy{Independent, SplitAtMidpoint, Exclusive} {
			p := Params{PreWindow: uint64(rng.Intn(30)), PostWindow: uint64(rng.Intn(30)), Policy: policy}
			windows, err := ExtractAll(p, hits, triggers)
			require.NoError(t, err)
			require.Len(t, windows, len(triggers))

			got := make([][]timepix.HitID, len(windows))
			for i, w := range windows {
				got[i] = append([]timepix.HitID{}, w.HitIDs...)
				assert.Equal(t, triggers[i], w.Trigger, "windows emitted in trigger order")
				for _, h := range w.Hits {
					assert.True(t, w.Contains(h.ToA), "window bound law")
				}
			}
			if diff := cmp.Diff(referenceWindows(p, hits, triggers), got); diff != "" {
				t.Fatalf("trial %d %s: (-want +got):\n%s", trial, policy, diff)
			}
		}
	}
}

func TestExtract_ExclusiveAndSplitAssignOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	hits, triggers := randomStreams(rng)
	for _, policy := range []OverlapPolicy{SplitAtMidpoint, Exclusive} {
		windows, err := ExtractAll(Params{PreWindow: 25, PostWindow: 25, Policy: policy}, hits, triggers)
		require.NoError(t, err)
		seen := map[timepix.HitID]bool{}
		for _, w := range windows {
			for _, id := range w.HitIDs {
				require.False(t, seen[id], "%s: hit %d assigned twice", policy, id)
				seen[id] = true
			}
		}
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]OverlapPolicy{
		"":                  Independent,
		"Independent":       Independent,
		"split":             SplitAtMidpoint,
		"split-at-midpoint": SplitAtMidpoint,
		"EXCLUSIVE":         Exclusive,
	} {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePolicy("drop")
	assert.ErrorIs(t, err, timepix.ErrConfig)

	_, err = NewExtractor(Params{Policy: OverlapPolicy(9)})
	assert.ErrorIs(t, err, timepix.ErrConfig)
	assert.Equal(t, "OverlapPolicy(9)", OverlapPolicy(9).String())
}

func TestAcquisitionWindow(t *testing.T) {
	pre, post, err := AcquisitionWindow(1000, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pre)
	assert.Equal(t, uint64(1000), post)

	pre, post, err = AcquisitionWindow(1000, 25)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), pre)
	assert.Equal(t, uint64(250), post)

	_, _, err = AcquisitionWindow(1000, 0)
	assert.ErrorIs(t, err, timepix.ErrConfig)
	_, _, err = AcquisitionWindow(1000, 101)
	assert.ErrorIs(t, err, timepix.ErrConfig)
}
