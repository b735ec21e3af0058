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
	"github.com/banshee-data/timepix.report/internal/timepix/pipeline"
	"github.com/banshee-data/timepix.report/internal/timepix/runstore"
)

const toolTriggerCluster = "trigger-cluster"

func newTriggerClusterCommand(a *app) *cobra.Command {
	var singleCluster bool
	cmd := &cobra.Command{
		Use:   "trigger-cluster <run-glob>...",
		Short: "Cluster the hits of each trigger window separately",
		Long: "Builds the trigger windows of every matching run directory, clusters\n" +
			"each window on its own and writes the clusters as events tagged with\n" +
			"the trigger number.",
		Args: cobra.MinimumNArgs(1),
	}
	addClusterFlags(cmd)
	addWindowFlags(cmd)
	addHitFilterFlags(cmd)
	name := addOutputFlags(cmd, "trigger_clusters")
	cmd.Flags().Int("workers", 0, "windows clustered concurrently, 0 for GOMAXPROCS")
	cmd.Flags().Int("batch-size", pipeline.DefaultBatchSize, "windows buffered per clustering batch")
	cmd.Flags().BoolVar(&singleCluster, "single-cluster", false, "only write windows that form exactly one cluster")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := a.loadConfig(cmd)
		if err != nil {
			return err
		}
		t, err := newTriggerClusterTool(a, cfg, *name, singleCluster)
		if err != nil {
			return err
		}
		return a.runJob(cmd.Context(), t.job(), args)
	}
	return cmd
}

type triggerClusterTool struct {
	a             *app
	cfg           *config.TuningConfig
	name          string
	singleCluster bool
	clusterer     *pipeline.TriggerClusterer
	filter        timepix.HitFilter
	settings      settings
}

func newTriggerClusterTool(a *app, cfg *config.TuningConfig, name string, singleCluster bool) (*triggerClusterTool, error) {
	clusterParams, err := cfg.ClusterParams()
	if err != nil {
		return nil, err
	}
	windowParams, err := cfg.WindowParams()
	if err != nil {
		return nil, err
	}
	tc, err := pipeline.NewTriggerClusterer(clusterParams, windowParams,
		pipeline.WithWorkers(cfg.GetWorkers()),
		pipeline.WithBatchSize(cfg.GetBatchSize()),
		pipeline.WithClusterFilter(cfg.ClusterFilter()))
	if err != nil {
		return nil, err
	}
	filter, err := a.hitFilter(cfg)
	if err != nil {
		return nil, err
	}

	s := newSettings(toolTriggerCluster, name, cfg, filter).withCluster(cfg).withWindow(cfg)
	s.Cluster.SingleCluster = singleCluster
	return &triggerClusterTool{
		a:             a,
		cfg:           cfg,
		name:          name,
		singleCluster: singleCluster,
		clusterer:     tc,
		filter:        filter,
		settings:      s,
	}, nil
}

func (t *triggerClusterTool) job() job {
	return job{
		tool:     toolTriggerCluster,
		required: []string{hitio.HitsFile, hitio.TriggersFile},
		outputs:  []string{t.name + ".bin"},
		settings: func(fsutil.RunDir) string { return t.settings.String() },
		process:  t.process,
	}
}

func (t *triggerClusterTool) process(ctx context.Context, r fsutil.RunDir) (res runstore.Result, err error) {
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
	src := timepix.NewFilterSource(counted, t.filter)
	triggers := timepix.LimitTriggers(tr, int(t.cfg.GetMaxTriggers()))
	stop := t.a.trackProgress(toolTriggerCluster, r, counted)
	defer stop()

	out, err := hitio.CreateOutput(r.Path, t.name, t.settings, t.cfg.GetRelativeToA())
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, out.Close()) }()

	// Every written cluster carries its trigger number as the event ID.
	st, err := t.clusterer.Run(ctx, src, triggers, func(wc pipeline.WindowClusters) error {
		if t.singleCluster && len(wc.Clusters) != 1 {
			return nil
		}
		id := uint64(wc.Window.Trigger.ID)
		for _, c := range wc.Clusters {
			if err := out.WriteEvent(id, c.TMin, c.TMax, c.Hits); err != nil {
				return err
			}
		}
		return nil
	})

	res = runstore.Result{
		HitsRead: counted.n.Load(),
		Events:   out.Events(),
		Clusters: st.ClustersEmitted,
		Windows:  st.Extract.WindowsEmitted,
	}
	monitoring.HitsRead.WithLabelValues(toolTriggerCluster).Add(float64(res.HitsRead))
	monitoring.HitsFiltered.WithLabelValues(toolTriggerCluster).Add(float64(src.Dropped))
	monitoring.ContestedHits.WithLabelValues(toolTriggerCluster).Add(float64(st.Extract.HitsContested))
	monitoring.WindowsEmitted.WithLabelValues(toolTriggerCluster).Add(float64(st.Extract.WindowsEmitted))
	monitoring.ClustersEmitted.WithLabelValues(toolTriggerCluster).Add(float64(st.ClustersEmitted))
	monitoring.EventsWritten.WithLabelValues(toolTriggerCluster).Add(float64(out.Events()))
	if err != nil {
		return res, err
	}

	monitoring.Logger().Debugw("trigger clustering stats", "run", r.Name,
		"batches", st.Batches, "filtered", st.ClustersFiltered, "contested", st.Extract.HitsContested)
	return res, nil
}
