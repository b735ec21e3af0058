package report

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/timepix.report/internal/timepix"
)

// heatmapColors is the number of palette steps used for PNG heatmaps.
const heatmapColors = 64

// pixelGrid adapts a PixelMap to plotter.GridXYZ.
type pixelGrid struct {
	m   *PixelMap
	log bool
	max float64
}

func newPixelGrid(m *PixelMap, logScale bool) pixelGrid {
	g := pixelGrid{m: m, log: logScale}
	g.max = g.scale(m.Max())
	if g.max <= 0 {
		// The heatmap needs a non-empty range even for a blank sensor.
		g.max = 1
	}
	return g
}

func (g pixelGrid) scale(v uint64) float64 {
	if g.log {
		return math.Log1p(float64(v))
	}
	return float64(v)
}

func (g pixelGrid) Dims() (c, r int)   { return timepix.SensorColumns, timepix.SensorRows }
func (g pixelGrid) Z(c, r int) float64 { return g.scale(g.m.At(c, r)) }
func (g pixelGrid) X(c int) float64    { return float64(c) }
func (g pixelGrid) Y(r int) float64    { return float64(r) }
func (g pixelGrid) Min() float64       { return 0 }
func (g pixelGrid) Max() float64       { return g.max }

// HeatmapPlot builds the sensor heatmap of m. With logScale the colour
// follows log(1 + value).
func HeatmapPlot(m *PixelMap, title string, logScale bool) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"

	hm := plotter.NewHeatMap(newPixelGrid(m, logScale), palette.Heat(heatmapColors, 1))
	hm.Rasterized = true
	p.Add(hm)

	p.X.Min, p.X.Max = -0.5, timepix.SensorColumns-0.5
	p.Y.Min, p.Y.Max = -0.5, timepix.SensorRows-0.5
	return p
}

// SaveHeatmap renders m to an image file. The format follows the path
// extension (png, svg, pdf ...).
func SaveHeatmap(path string, m *PixelMap, title string, logScale bool) error {
	p := HeatmapPlot(m, title, logScale)
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving heatmap %s: %w", path, err)
	}
	return nil
}
