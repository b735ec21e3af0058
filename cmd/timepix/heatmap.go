package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/banshee-data/timepix.report/internal/config"
	"github.com/banshee-data/timepix.report/internal/fsutil"
	"github.com/banshee-data/timepix.report/internal/monitoring"
	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/timepix/hitio"
	"github.com/banshee-data/timepix.report/internal/timepix/report"
	"github.com/banshee-data/timepix.report/internal/timepix/runstore"
)

const toolHeatmap = "heatmap"

// Heatmap outputs, written into the run directory.
const (
	heatmapPNG    = "heatmap.png"
	heatmapCSV    = "heatmap.csv"
	heatmapHTML   = "heatmap.html"
	hotPixelsFile = "hot_pixels.csv"
)

type heatmapOptions struct {
	sumToT   bool
	top      int
	logScale bool
	html     bool
}

func newHeatmapCommand(a *app) *cobra.Command {
	var opts heatmapOptions
	cmd := &cobra.Command{
		Use:   "heatmap <run-glob>...",
		Short: "Per-pixel hit maps and hot pixel lists",
		Long: "Accumulates hits.bin of every matching run directory per pixel and\n" +
			"writes heatmap.png, heatmap.csv and the top pixels to hot_pixels.csv.",
		Args: cobra.MinimumNArgs(1),
	}
	addHitFilterFlags(cmd)
	f := cmd.Flags()
	f.BoolVar(&opts.sumToT, "sum-tot", false, "sum ToT per pixel instead of counting hits")
	f.IntVar(&opts.top, "top", 100, "pixels listed in hot_pixels.csv")
	f.BoolVar(&opts.logScale, "log", false, "log colour scale")
	f.BoolVar(&opts.html, "html", false, "also write an interactive heatmap.html")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := a.loadConfig(cmd)
		if err != nil {
			return err
		}
		h, err := newHeatmapTool(a, cfg, opts)
		if err != nil {
			return err
		}
		return a.runJob(cmd.Context(), h.job(), args)
	}
	return cmd
}

type heatmapTool struct {
	a        *app
	opts     heatmapOptions
	filter   timepix.HitFilter
	settings settings
}

func newHeatmapTool(a *app, cfg *config.TuningConfig, opts heatmapOptions) (*heatmapTool, error) {
	filter, err := a.hitFilter(cfg)
	if err != nil {
		return nil, err
	}
	return &heatmapTool{
		a:        a,
		opts:     opts,
		filter:   filter,
		settings: newSettings(toolHeatmap, heatmapPNG, cfg, filter),
	}, nil
}

func (h *heatmapTool) job() job {
	return job{
		tool:     toolHeatmap,
		required: []string{hitio.HitsFile},
		outputs:  []string{heatmapPNG},
		settings: func(fsutil.RunDir) string { return h.settings.String() },
		process:  h.process,
	}
}

func (h *heatmapTool) mode() report.PixelMode {
	if h.opts.sumToT {
		return report.SumToT
	}
	return report.CountHits
}

func (h *heatmapTool) process(ctx context.Context, r fsutil.RunDir) (res runstore.Result, err error) {
	hr, err := hitio.OpenHits(filepath.Join(r.Path, hitio.HitsFile))
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, hr.Close()) }()

	counted := &countingSource{src: hr}
	src := timepix.NewFilterSource(counted, h.filter)
	stop := h.a.trackProgress(toolHeatmap, r, counted)
	defer stop()

	m := report.NewPixelMap(h.mode())
	if _, err := m.Accumulate(src); err != nil {
		return res, err
	}
	res.HitsRead = counted.n.Load()
	monitoring.HitsRead.WithLabelValues(toolHeatmap).Add(float64(res.HitsRead))
	monitoring.HitsFiltered.WithLabelValues(toolHeatmap).Add(float64(src.Dropped))
	if err := ctx.Err(); err != nil {
		return res, err
	}

	title := fmt.Sprintf("%s (%s)", r.Name, m.Mode)
	if err := report.SaveHeatmap(filepath.Join(r.Path, heatmapPNG), m, title, h.opts.logScale); err != nil {
		return res, err
	}

	var buf bytes.Buffer
	if err := m.WriteMatrix(&buf); err != nil {
		return res, err
	}
	if err := h.a.fsys.WriteFile(filepath.Join(r.Path, heatmapCSV), buf.Bytes(), 0644); err != nil {
		return res, err
	}

	buf.Reset()
	hot := m.Hottest(h.opts.top)
	if err := report.WriteHotPixels(&buf, hot); err != nil {
		return res, err
	}
	if err := h.a.fsys.WriteFile(filepath.Join(r.Path, hotPixelsFile), buf.Bytes(), 0644); err != nil {
		return res, err
	}
	if len(hot) > 0 {
		monitoring.Logger().Infow("hottest pixel", "run", r.Name, "x", hot[0].X, "y", hot[0].Y, "value", hot[0].Value)
	}

	if h.opts.html {
		buf.Reset()
		if err := report.RenderHTML(&buf, report.RunReport{Title: r.Name, Subtitle: toolHeatmap, Pixels: m}); err != nil {
			return res, err
		}
		if err := h.a.fsys.WriteFile(filepath.Join(r.Path, heatmapHTML), buf.Bytes(), 0644); err != nil {
			return res, err
		}
	}
	return res, nil
}
