package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/timepix.report/internal/timepix"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// Bin is one histogram bucket covering [Lo, Hi).
type Bin struct {
	Lo, Hi float64
	Count  int
}

// Histogram buckets values into n equal-width bins spanning their range.
func Histogram(values []float64, n int) []Bin {
	if len(values) == 0 || n <= 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	width := (hi - lo) / float64(n)
	if width <= 0 {
		width = 1
	}
	dividers := make([]float64, n+1)
	for i := range dividers {
		dividers[i] = lo + float64(i)*width
	}
	// The top divider is exclusive, so nudge it past the maximum.
	if dividers[n] <= hi {
		dividers[n] = hi + width/2
	}

	counts := stat.Histogram(nil, dividers, sorted, nil)
	bins := make([]Bin, n)
	for i := range bins {
		bins[i] = Bin{Lo: dividers[i], Hi: dividers[i+1], Count: int(counts[i])}
	}
	return bins
}

// RunReport is the content of an HTML run overview.
type RunReport struct {
	Title    string
	Subtitle string
	Clusters *ClusterStats
	Pixels   *PixelMap // Falls back to Clusters.Pixels when nil
	Bins     int
}

// RenderHTML writes a self-contained chart page for r.
func RenderHTML(w io.Writer, r RunReport) error {
	bins := r.Bins
	if bins <= 0 {
		bins = 50
	}
	pixels := r.Pixels
	if pixels == nil && r.Clusters != nil {
		pixels = r.Clusters.Pixels
	}

	page := components.NewPage()
	page.SetPageTitle(r.Title)
	if r.Clusters != nil && r.Clusters.Count() > 0 {
		page.AddCharts(
			histogramChart("Cluster size", "hits", Histogram(r.Clusters.Sizes, bins), r.Subtitle),
			histogramChart("Cluster ToT", "ns", Histogram(r.Clusters.ToT, bins), r.Subtitle),
		)
	}
	if pixels != nil {
		page.AddCharts(pixelChart(pixels, r.Title, r.Subtitle))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}

func histogramChart(title, unit string, bins []Bin, subtitle string) *charts.Bar {
	x := make([]string, len(bins))
	y := make([]opts.BarData, len(bins))
	for i, b := range bins {
		x[i] = strconv.FormatFloat(b.Lo, 'g', 4, 64)
		y[i] = opts.BarData{Value: b.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: unit}),
		charts.WithYAxisOpts(opts.YAxis{Name: "clusters"}),
	)
	bar.SetXAxis(x).AddSeries(title, y)
	return bar
}

func pixelChart(m *PixelMap, title, subtitle string) *charts.HeatMap {
	axis := make([]int, timepix.SensorColumns)
	for i := range axis {
		axis[i] = i
	}
	data := make([]opts.HeatMapData, 0, 4096)
	for y := 0; y < timepix.SensorRows; y++ {
		for x := 0; x < timepix.SensorColumns; x++ {
			if v := m.At(x, y); v > 0 {
				data = append(data, opts.HeatMapData{Value: [3]interface{}{x, y, v}})
			}
		}
	}
	max := float32(m.Max())
	if max <= 0 {
		max = 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%s %s, %d pixels", subtitle, m.Mode, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "column", Data: axis}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "row", Data: axis}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        max,
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.AddSeries(m.Mode.String(), data)
	return hm
}
