package testutil

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/timepix/hitio"
)

// fakeTB records fatal calls instead of stopping the goroutine.
type fakeTB struct {
	testing.TB
	failed bool
}

func (f *fakeTB) Helper()               {}
func (f *fakeTB) Fatal(...any)          { f.failed = true }
func (f *fakeTB) Fatalf(string, ...any) { f.failed = true }

func TestAssertNoError(t *testing.T) {
	ft := &fakeTB{TB: t}
	AssertNoError(ft, nil)
	assert.False(t, ft.failed)
	AssertNoError(ft, errors.New("boom"))
	assert.True(t, ft.failed)
}

func TestAssertError(t *testing.T) {
	ft := &fakeTB{TB: t}
	AssertError(ft, errors.New("boom"))
	assert.False(t, ft.failed)
	AssertError(ft, nil)
	assert.True(t, ft.failed)
}

func TestBurst(t *testing.T) {
	hits := Burst(10, 20, 100, 3)
	assert.Equal(t, []timepix.Hit{
		{X: 10, Y: 20, ToA: 100, ToT: 10},
		{X: 11, Y: 20, ToA: 101, ToT: 10},
		{X: 12, Y: 20, ToA: 102, ToT: 10},
	}, hits)
}

func TestRandomHits_Ordered(t *testing.T) {
	hits := RandomHits(rand.New(rand.NewSource(1)), 1000, 5)
	require.Len(t, hits, 1000)
	for i := 1; i < len(hits); i++ {
		require.LessOrEqual(t, hits[i-1].ToA, hits[i].ToA)
	}
	for _, h := range hits {
		require.False(t, h.IsZero())
	}
}

func TestWriteRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run_001")
	hits := Burst(1, 1, 10, 4)
	triggers := []timepix.Trigger{{ID: 1, Timestamp: 3200}}
	WriteRun(t, dir, hits, triggers)

	hr, err := hitio.OpenHits(filepath.Join(dir, hitio.HitsFile))
	require.NoError(t, err)
	defer hr.Close()
	got, err := timepix.ReadAllHits(hr)
	require.NoError(t, err)
	assert.Equal(t, hits, got)

	tr, err := hitio.OpenTriggers(filepath.Join(dir, hitio.TriggersFile))
	require.NoError(t, err)
	defer tr.Close()
	gotTriggers, err := timepix.ReadAllTriggers(tr)
	require.NoError(t, err)
	assert.Equal(t, triggers, gotTriggers)
}
