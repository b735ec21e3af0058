package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/banshee-data/timepix.report/internal/config"
	"github.com/banshee-data/timepix.report/internal/fsutil"
	"github.com/banshee-data/timepix.report/internal/monitoring"
	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/timepix/hitio"
	"github.com/banshee-data/timepix.report/internal/timepix/runstore"
	"github.com/banshee-data/timepix.report/internal/timepix/trigger"
)

const toolExtract = "extract"

func newExtractCommand(a *app) *cobra.Command {
	var preventOverlap bool
	cmd := &cobra.Command{
		Use:   "extract <run-glob>...",
		Short: "Cut the hits around each trigger into events",
		Long: "Reads hits.bin and triggers.csv of every matching run directory and\n" +
			"writes one event per trigger window to <filename>.bin/.csv/.toml.",
		Args: cobra.MinimumNArgs(1),
	}
	addWindowFlags(cmd)
	addHitFilterFlags(cmd)
	name := addOutputFlags(cmd, "trigger_events")
	cmd.Flags().Int("min-event-hits", 0, "skip windows with fewer hits")
	cmd.Flags().Bool("write-empty", false, "write every window, even empty or small ones")
	cmd.Flags().BoolVar(&preventOverlap, "prevent-overlap", false, "drop hits inside more than one window (overlap-policy exclusive)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := a.loadConfig(cmd)
		if err != nil {
			return err
		}
		if preventOverlap {
			policy := trigger.Exclusive.String()
			cfg.OverlapPolicy = &policy
		}
		x, err := newExtractTool(a, cfg, *name)
		if err != nil {
			return err
		}
		return a.runJob(cmd.Context(), x.job(), args)
	}
	return cmd
}

type extractTool struct {
	a        *app
	cfg      *config.TuningConfig
	name     string
	params   trigger.Params
	filter   timepix.HitFilter
	settings settings
}

func newExtractTool(a *app, cfg *config.TuningConfig, name string) (*extractTool, error) {
	params, err := cfg.WindowParams()
	if err != nil {
		return nil, err
	}
	filter, err := a.hitFilter(cfg)
	if err != nil {
		return nil, err
	}
	return &extractTool{
		a:        a,
		cfg:      cfg,
		name:     name,
		params:   params,
		filter:   filter,
		settings: newSettings(toolExtract, name, cfg, filter).withWindow(cfg),
	}, nil
}

func (x *extractTool) job() job {
	return job{
		tool:     toolExtract,
		required: []string{hitio.HitsFile, hitio.TriggersFile},
		outputs:  []string{x.name + ".bin"},
		settings: func(fsutil.RunDir) string { return x.settings.String() },
		process:  x.process,
	}
}

func (x *extractTool) process(ctx context.Context, r fsutil.RunDir) (res runstore.Result, err error) {
	hr, err := hitio.OpenHits(filepath.Join(r.Path, hitio.HitsFile))
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, hr.Close()) }()
	tr, err := hitio.OpenTriggers(filepath.Join(r.Path, hitio.TriggersFile))
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, tr.Close()) }()

	counted := &countingSource{src: hr}
	src := timepix.NewFilterSource(counted, x.filter)
	triggers := timepix.LimitTriggers(tr, int(x.cfg.GetMaxTriggers()))
	stop := x.a.trackProgress(toolExtract, r, counted)
	defer stop()

	out, err := hitio.CreateOutput(r.Path, x.name, x.settings, x.cfg.GetRelativeToA())
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, out.Close()) }()

	extractor, err := trigger.NewExtractor(x.params)
	if err != nil {
		return res, err
	}
	minHits, writeEmpty := x.cfg.GetMinEventHits(), x.cfg.GetWriteEmpty()
	st, err := extractor.Extract(ctx, src, triggers, func(w timepix.TriggerWindow) error {
		if !writeEmpty && (w.Size() == 0 || w.Size() < minHits) {
			return nil
		}
		return out.WriteWindow(w)
	})

	res = runstore.Result{HitsRead: counted.n.Load(), Events: out.Events(), Windows: st.WindowsEmitted}
	monitoring.HitsRead.WithLabelValues(toolExtract).Add(float64(res.HitsRead))
	monitoring.HitsFiltered.WithLabelValues(toolExtract).Add(float64(src.Dropped))
	monitoring.ContestedHits.WithLabelValues(toolExtract).Add(float64(st.HitsContested))
	monitoring.WindowsEmitted.WithLabelValues(toolExtract).Add(float64(st.WindowsEmitted))
	monitoring.EventsWritten.WithLabelValues(toolExtract).Add(float64(out.Events()))
	if err != nil {
		return res, err
	}

	monitoring.Logger().Debugw("extraction stats", "run", r.Name,
		"triggers", st.TriggersRead, "outside", st.HitsOutside,
		"contested", st.HitsContested, "dropped", st.HitsDropped, "peak_open", st.PeakOpen)
	return res, nil
}
