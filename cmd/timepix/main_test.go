package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/banshee-data/timepix.report/internal/testutil"
	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/timepix/hitio"
	"github.com/banshee-data/timepix.report/internal/timepix/runstore"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a := newApp(&out)
	a.logger = zaptest.NewLogger(t)
	return a, &out
}

func execute(t *testing.T, a *app, args ...string) error {
	t.Helper()
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stdout)
	return root.ExecuteContext(context.Background())
}

// sampleHits holds three clusters: two near ToA 100 far apart on the
// sensor, and one 20000 ticks later.
func sampleHits() []timepix.Hit {
	var hits []timepix.Hit
	hits = append(hits, testutil.Burst(10, 10, 100, 4)...)
	hits = append(hits, testutil.Burst(100, 100, 200, 3)...)
	hits = append(hits, testutil.Burst(50, 50, 20000, 2)...)
	return hits
}

// sampleTriggers open one window over the first two clusters and one over
// the third, with the default 10µs window.
var sampleTriggers = []timepix.Trigger{
	{ID: 1, Timestamp: 160},
	{ID: 2, Timestamp: 20000},
}

func readMetadata(t *testing.T, path string) []hitio.Metadata {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := hitio.ReadMetadata(f)
	require.NoError(t, err)
	return rows
}

func TestCluster_WritesOutputs(t *testing.T) {
	dir := t.TempDir()
	run := filepath.Join(dir, "run1")
	testutil.WriteRun(t, run, sampleHits(), nil)
	db := filepath.Join(dir, "runs.db")

	a, _ := newTestApp(t)
	require.NoError(t, execute(t, a, "cluster", "--db", db, filepath.Join(dir, "run*")))

	rows := readMetadata(t, filepath.Join(run, "clusters.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, uint64(1), rows[0].Event)
	assert.Equal(t, 4, rows[0].Hits)
	assert.Equal(t, uint64(3), rows[2].Event)
	assert.Equal(t, int64(5*hitio.RecordSize), rows[1].Offset)

	var s settings
	_, err := toml.DecodeFile(filepath.Join(run, "clusters.toml"), &s)
	require.NoError(t, err)
	assert.Equal(t, toolCluster, s.Tool)
	require.NotNil(t, s.Cluster)
	assert.Equal(t, 1, s.Cluster.MaxPixelGap)
	assert.Equal(t, uint64(3200), s.Cluster.TimeWindow)

	store, err := runstore.Open(db, nil)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.List(context.Background(), runstore.Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runstore.StatusComplete, runs[0].Status)
	assert.Equal(t, uint64(9), runs[0].HitsRead)
	assert.Equal(t, uint64(3), runs[0].Events)
	assert.Contains(t, runs[0].Settings, "max_pixel_gap = 1")
}

func TestCluster_SkipsProcessedAndDryRun(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "run1")
	second := filepath.Join(dir, "run2")
	testutil.WriteRun(t, first, sampleHits(), nil)
	testutil.WriteRun(t, second, sampleHits(), nil)

	a, _ := newTestApp(t)
	require.NoError(t, execute(t, a, "cluster", first))

	a, out := newTestApp(t)
	require.NoError(t, execute(t, a, "cluster", "--dry-run", filepath.Join(dir, "run*")))
	assert.Contains(t, out.String(), second)
	assert.NotContains(t, out.String(), first+"\t")
	assert.NoFileExists(t, filepath.Join(second, "clusters.bin"))

	a, out = newTestApp(t)
	require.NoError(t, execute(t, a, "cluster", "--dry-run", "--force", filepath.Join(dir, "run*")))
	assert.Contains(t, out.String(), first+"\t")
}

func TestCluster_FiltersAndLimit(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRun(t, dir, sampleHits(), nil)

	a, _ := newTestApp(t)
	require.NoError(t, execute(t, a, "cluster", "--min-cluster-hits", "3", "--filename", "big", dir))
	rows := readMetadata(t, filepath.Join(dir, "big.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, []uint64{1, 2}, []uint64{rows[0].Event, rows[1].Event}, "renumbered without gaps")

	a, _ = newTestApp(t)
	require.NoError(t, execute(t, a, "cluster", "--max-clusters", "1", "--filename", "first", dir))
	assert.Len(t, readMetadata(t, filepath.Join(dir, "first.csv")), 1)
}

func TestCluster_Report(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRun(t, dir, sampleHits(), nil)

	a, _ := newTestApp(t)
	require.NoError(t, execute(t, a, "cluster", "--report", dir))
	assert.FileExists(t, filepath.Join(dir, "clusters_sizes.png"))
	assert.FileExists(t, filepath.Join(dir, "clusters.html"))
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRun(t, dir, sampleHits(), sampleTriggers)

	a, _ := newTestApp(t)
	require.NoError(t, execute(t, a, "extract", dir))
	rows := readMetadata(t, filepath.Join(dir, "trigger_events.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(1), rows[0].Event)
	assert.Equal(t, 7, rows[0].Hits)
	assert.Equal(t, uint64(2), rows[1].Event)
	assert.Equal(t, 2, rows[1].Hits)

	a, _ = newTestApp(t)
	require.NoError(t, execute(t, a, "extract", "--min-event-hits", "3", "--filename", "big", dir))
	rows = readMetadata(t, filepath.Join(dir, "big.csv"))
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(1), rows[0].Event)

	a, _ = newTestApp(t)
	require.NoError(t, execute(t, a, "extract", "--max-triggers", "1", "--filename", "one", dir))
	assert.Len(t, readMetadata(t, filepath.Join(dir, "one.csv")), 1)
}

func TestExtract_MissingTriggersSkipped(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRun(t, dir, sampleHits(), nil)

	a, _ := newTestApp(t)
	require.NoError(t, execute(t, a, "extract", dir))
	assert.NoFileExists(t, filepath.Join(dir, "trigger_events.bin"))
}

func TestTriggerCluster(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRun(t, dir, sampleHits(), sampleTriggers)

	a, _ := newTestApp(t)
	require.NoError(t, execute(t, a, "trigger-cluster", "--workers", "2", "--batch-size", "1", dir))
	rows := readMetadata(t, filepath.Join(dir, "trigger_clusters.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, []uint64{1, 1, 2}, []uint64{rows[0].Event, rows[1].Event, rows[2].Event})

	a, _ = newTestApp(t)
	require.NoError(t, execute(t, a, "trigger-cluster", "--single-cluster", "--filename", "single", dir))
	rows = readMetadata(t, filepath.Join(dir, "single.csv"))
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(2), rows[0].Event)
	assert.Equal(t, 2, rows[0].Hits)
}

func TestHeatmap(t *testing.T) {
	dir := t.TempDir()
	hits := []timepix.Hit{
		{X: 7, Y: 7, ToA: 1, ToT: 5},
		{X: 7, Y: 7, ToA: 2, ToT: 5},
		{X: 3, Y: 4, ToA: 3, ToT: 50},
		{X: 7, Y: 7, ToA: 4, ToT: 5},
	}
	testutil.WriteRun(t, dir, hits, nil)

	a, _ := newTestApp(t)
	require.NoError(t, execute(t, a, "heatmap", "--top", "1", "--html", dir))
	for _, name := range []string{heatmapPNG, heatmapCSV, heatmapHTML, hotPixelsFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	hot, err := os.ReadFile(filepath.Join(dir, hotPixelsFile))
	require.NoError(t, err)
	assert.Equal(t, "pos,x,y,hits\n1,7,7,3\n", string(hot))

	// The hot pixel list masks (7, 7) in a later pass.
	a, _ = newTestApp(t)
	require.NoError(t, execute(t, a, "heatmap", "--force", "--sum-tot", "--hot-pixel-file", filepath.Join(dir, hotPixelsFile), dir))
	hot, err = os.ReadFile(filepath.Join(dir, hotPixelsFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(hot), "pos,x,y,hits\n1,3,4,50\n"), string(hot))
}

func TestRunJob_AggregatesFailures(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good")
	bad := filepath.Join(dir, "bad")
	testutil.WriteRun(t, good, sampleHits(), nil)
	testutil.WriteRun(t, bad, []timepix.Hit{{X: 1, Y: 1, ToA: 10, ToT: 1}, {X: 1, Y: 1, ToA: 5, ToT: 1}}, nil)
	db := filepath.Join(dir, "runs.db")
	metrics := filepath.Join(dir, "metrics.prom")

	a, _ := newTestApp(t)
	err := execute(t, a, "cluster", "--parallel", "2", "--db", db, "--metrics-file", metrics, filepath.Join(dir, "*"))
	require.Error(t, err)
	assert.ErrorIs(t, err, timepix.ErrOrdering)
	assert.Contains(t, err.Error(), bad)
	assert.FileExists(t, filepath.Join(good, "clusters.bin"))

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "timepix_runs_total")

	a, out := newTestApp(t)
	require.NoError(t, execute(t, a, "runs", "--db", db, "--status", runstore.StatusFailed))
	assert.Contains(t, out.String(), bad)
	assert.Contains(t, out.String(), "error:")
	assert.NotContains(t, out.String(), good)
}

func TestRuns_RequiresDB(t *testing.T) {
	a, _ := newTestApp(t)
	assert.Error(t, execute(t, a, "runs"))
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tuning.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("max_pixel_gap = 3\nmin_cluster_hits = 2\n"), 0644))

	load := func(args ...string) (gap, minHits int) {
		a, _ := newTestApp(t)
		a.configPath = cfgPath
		cmd := newClusterCommand(a)
		require.NoError(t, cmd.ParseFlags(args))
		cfg, err := a.loadConfig(cmd)
		require.NoError(t, err)
		return cfg.GetMaxPixelGap(), cfg.GetMinClusterHits()
	}

	gap, minHits := load()
	assert.Equal(t, 3, gap, "file beats flag default")
	assert.Equal(t, 2, minHits)

	gap, _ = load("--max-pixel-gap", "5")
	assert.Equal(t, 5, gap, "explicit flag beats file")

	t.Setenv("TIMEPIX_MIN_CLUSTER_HITS", "7")
	_, minHits = load()
	assert.Equal(t, 7, minHits, "environment beats file")
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRun(t, dir, sampleHits(), sampleTriggers)

	a, _ := newTestApp(t)
	err := execute(t, a, "extract", "--overlap-policy", "sometimes", dir)
	assert.ErrorIs(t, err, timepix.ErrConfig)
	assert.NoFileExists(t, filepath.Join(dir, "trigger_events.bin"))
}

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"--version"}, &out, &errOut))
	assert.Contains(t, out.String(), "dev")

	assert.Equal(t, 1, run([]string{"cluster"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "error:")
}

func TestCluster_RejectsUnsafeOutputs(t *testing.T) {
	dir := t.TempDir()
	run := filepath.Join(dir, "run")
	testutil.WriteRun(t, run, sampleHits(), nil)

	a, _ := newTestApp(t)
	err := execute(t, a, "cluster", "--filename", "../escape", run)
	assert.ErrorIs(t, err, timepix.ErrConfig)
	assert.NoFileExists(t, filepath.Join(dir, "escape.bin"))

	victim := filepath.Join(dir, "victim.bin")
	require.NoError(t, os.WriteFile(victim, []byte("keep"), 0644))
	if err := os.Symlink(victim, filepath.Join(run, "clusters.bin")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	a, _ = newTestApp(t)
	require.Error(t, execute(t, a, "cluster", "--force", run))
	data, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}
