// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/timepix/hitio"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Burst returns n hits on a horizontal line starting at (x, y), one tick
// apart from toa. ToT is 10 for every hit.
func Burst(x, y uint16, toa uint64, n int) []timepix.Hit {
	hits := make([]timepix.Hit, n)
	for i := range hits {
		hits[i] = timepix.Hit{X: x + uint16(i), Y: y, ToA: toa + uint64(i), ToT: 10}
	}
	return hits
}

// RandomHits returns n time-ordered hits spread over the sensor, with ToA
// steps of 0 to maxStep ticks. The first hit has ToA >= 1 so no hit is the
// all-zero record.
func RandomHits(rng *rand.Rand, n int, maxStep int) []timepix.Hit {
	hits := make([]timepix.Hit, n)
	toa := uint64(1)
	for i := range hits {
		toa += uint64(rng.Intn(maxStep + 1))
		hits[i] = timepix.Hit{
			X:   uint16(rng.Intn(timepix.SensorColumns)),
			Y:   uint16(rng.Intn(timepix.SensorRows)),
			ToA: toa,
			ToT: uint32(1 + rng.Intn(100)),
		}
	}
	return hits
}

// WriteRun creates dir with hits.bin and, when triggers is non-nil,
// triggers.csv.
func WriteRun(t testing.TB, dir string, hits []timepix.Hit, triggers []timepix.Trigger) {
	t.Helper()
	AssertNoError(t, os.MkdirAll(dir, 0755))
	AssertNoError(t, hitio.WriteHitsFile(filepath.Join(dir, hitio.HitsFile), hits))
	if triggers == nil {
		return
	}
	f, err := os.Create(filepath.Join(dir, hitio.TriggersFile))
	AssertNoError(t, err)
	defer f.Close()
	AssertNoError(t, hitio.WriteTriggers(f, triggers))
}
