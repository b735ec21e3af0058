package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/banshee-data/timepix.report/internal/config"
	"github.com/banshee-data/timepix.report/internal/fsutil"
	"github.com/banshee-data/timepix.report/internal/monitoring"
	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/timepix/cluster"
	"github.com/banshee-data/timepix.report/internal/timepix/hitio"
	"github.com/banshee-data/timepix.report/internal/timepix/report"
	"github.com/banshee-data/timepix.report/internal/timepix/runstore"
)

const toolCluster = "cluster"

func newClusterCommand(a *app) *cobra.Command {
	var withReport bool
	cmd := &cobra.Command{
		Use:   "cluster <run-glob>...",
		Short: "Cluster the hits of whole runs",
		Long: "Clusters hits.bin of every matching run directory and writes\n" +
			"<filename>.bin, <filename>.csv and <filename>.toml next to it.",
		Args: cobra.MinimumNArgs(1),
	}
	addClusterFlags(cmd)
	addHitFilterFlags(cmd)
	cmd.Flags().String("max-clusters", "", "stop after writing this many clusters, e.g. 10M")
	name := addOutputFlags(cmd, "clusters")
	cmd.Flags().BoolVar(&withReport, "report", false, "also write a size histogram PNG and an HTML summary")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := a.loadConfig(cmd)
		if err != nil {
			return err
		}
		c, err := newClusterTool(a, cfg, *name, withReport)
		if err != nil {
			return err
		}
		return a.runJob(cmd.Context(), c.job(), args)
	}
	return cmd
}

type clusterTool struct {
	a        *app
	cfg      *config.TuningConfig
	name     string
	report   bool
	params   cluster.Params
	filter   timepix.HitFilter
	keep     timepix.ClusterFilter
	limit    uint64
	settings settings
}

func newClusterTool(a *app, cfg *config.TuningConfig, name string, withReport bool) (*clusterTool, error) {
	params, err := cfg.ClusterParams()
	if err != nil {
		return nil, err
	}
	filter, err := a.hitFilter(cfg)
	if err != nil {
		return nil, err
	}
	return &clusterTool{
		a:        a,
		cfg:      cfg,
		name:     name,
		report:   withReport,
		params:   params,
		filter:   filter,
		keep:     cfg.ClusterFilter(),
		limit:    cfg.GetMaxClusters(),
		settings: newSettings(toolCluster, name, cfg, filter).withCluster(cfg),
	}, nil
}

func (c *clusterTool) job() job {
	return job{
		tool:     toolCluster,
		required: []string{hitio.HitsFile},
		outputs:  []string{c.name + ".bin"},
		settings: func(fsutil.RunDir) string { return c.settings.String() },
		process:  c.process,
	}
}

func (c *clusterTool) process(ctx context.Context, r fsutil.RunDir) (res runstore.Result, err error) {
	hr, err := hitio.OpenHits(filepath.Join(r.Path, hitio.HitsFile))
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, hr.Close()) }()

	counted := &countingSource{src: hr}
	src := timepix.NewFilterSource(counted, c.filter)
	stop := c.a.trackProgress(toolCluster, r, counted)
	defer stop()

	out, err := hitio.CreateOutput(r.Path, c.name, c.settings, c.cfg.GetRelativeToA())
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, out.Close()) }()

	var stats *report.ClusterStats
	if c.report {
		stats = report.NewClusterStats()
	}

	var filtered uint64
	emit := func(cl timepix.Cluster) error {
		if !c.keep.Keep(cl) {
			filtered++
			return nil
		}
		// Written clusters are numbered from 1 without gaps.
		cl.ID = out.Events() + 1
		if err := out.WriteCluster(cl); err != nil {
			return err
		}
		if stats != nil {
			stats.Add(cl)
		}
		if c.limit > 0 && out.Events() >= c.limit {
			return errLimitReached
		}
		return nil
	}

	st, err := cluster.Run(ctx, c.params, src, emit)
	if errors.Is(err, errLimitReached) {
		monitoring.Logger().Infow("cluster limit reached", "run", r.Name, "limit", c.limit)
		err = nil
	}

	res = runstore.Result{HitsRead: counted.n.Load(), Events: out.Events(), Clusters: st.ClustersEmitted}
	monitoring.HitsRead.WithLabelValues(toolCluster).Add(float64(res.HitsRead))
	monitoring.HitsFiltered.WithLabelValues(toolCluster).Add(float64(src.Dropped))
	monitoring.ClustersEmitted.WithLabelValues(toolCluster).Add(float64(st.ClustersEmitted))
	monitoring.EventsWritten.WithLabelValues(toolCluster).Add(float64(out.Events()))
	monitoring.PeakActiveHits.WithLabelValues(toolCluster).Set(float64(st.PeakActive))
	if err != nil {
		return res, err
	}

	monitoring.Logger().Debugw("clusters filtered", "run", r.Name, "filtered", filtered)
	if stats != nil {
		err = c.writeReport(r, stats)
	}
	return res, err
}

// writeReport writes <name>_sizes.png and <name>.html.
func (c *clusterTool) writeReport(r fsutil.RunDir, stats *report.ClusterStats) error {
	if stats.Count() == 0 {
		return nil
	}
	monitoring.Logger().Infow("cluster sizes", "run", r.Name, "summary", report.Summarize(stats.Sizes).String())

	base := filepath.Join(r.Path, c.name)
	if err := report.SaveHistogram(base+"_sizes.png", stats.Sizes, 50, r.Name+" cluster size", "hits"); err != nil {
		return err
	}
	f, err := os.Create(base + ".html")
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	err = report.RenderHTML(f, report.RunReport{Title: r.Name, Subtitle: toolCluster, Clusters: stats})
	return multierr.Append(err, f.Close())
}
