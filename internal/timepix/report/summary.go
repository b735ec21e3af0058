package report

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/units"
)

// Summary describes a sample of values.
type Summary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	P50    float64
	P90    float64
	P99    float64
}

// Summarize computes a Summary. values is not modified. An empty sample
// yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	s := Summary{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:   stat.Quantile(0.9, stat.Empirical, sorted, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("n=%d min=%.4g p50=%.4g p90=%.4g p99=%.4g max=%.4g mean=%.4g sd=%.4g",
		s.Count, s.Min, s.P50, s.P90, s.P99, s.Max, s.Mean, s.StdDev)
}

// ClusterStats collects per-cluster measurements for a run report.
type ClusterStats struct {
	Sizes     []float64 // Hits per cluster
	ToT       []float64 // Summed ToT per cluster, in ns
	Durations []float64 // ToA span per cluster, in ns
	Pixels    *PixelMap // Hits of every added cluster
}

// NewClusterStats returns an empty accumulator.
func NewClusterStats() *ClusterStats {
	return &ClusterStats{Pixels: NewPixelMap(CountHits)}
}

// Add records one cluster.
func (s *ClusterStats) Add(c timepix.Cluster) {
	s.Sizes = append(s.Sizes, float64(c.Size()))
	s.ToT = append(s.ToT, float64(units.ToTNanos(c.SumToT)))
	s.Durations = append(s.Durations, units.NanosFromTicks(c.Duration()))
	for _, h := range c.Hits {
		s.Pixels.Add(h)
	}
}

// Count returns the number of clusters recorded.
func (s *ClusterStats) Count() int { return len(s.Sizes) }

// SaveHistogram plots values as a histogram with the given number of bins.
func SaveHistogram(path string, values []float64, bins int, title, xlabel string) error {
	if len(values) == 0 {
		return fmt.Errorf("histogram %s: no values", path)
	}
	h, err := plotter.NewHist(plotter.Values(values), bins)
	if err != nil {
		return fmt.Errorf("histogram %s: %w", path, err)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = "count"
	p.Add(h)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving histogram %s: %w", path, err)
	}
	return nil
}
