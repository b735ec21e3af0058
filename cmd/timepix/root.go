package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/timepix.report/internal/fsutil"
	"github.com/banshee-data/timepix.report/internal/monitoring"
	"github.com/banshee-data/timepix.report/internal/timeutil"
	"github.com/banshee-data/timepix.report/internal/version"
)

// app holds the global flags and the process-wide dependencies shared by
// every subcommand.
type app struct {
	configPath  string
	dbPath      string
	metricsFile string
	debug       bool
	dryRun      bool
	force       bool
	parallel    int
	progress    time.Duration

	stdout io.Writer
	clock  timeutil.Clock
	fsys   fsutil.FileSystem
	logger *zap.Logger // Replaces the logger built from --debug when set
}

func newApp(stdout io.Writer) *app {
	return &app{
		stdout: stdout,
		clock:  timeutil.RealClock{},
		fsys:   fsutil.OSFileSystem{},
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "timepix",
		Short:         "Cluster and trigger-window processing for Timepix3 runs",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				monitoring.UseZap(a.logger)
			} else if err := monitoring.Init(a.debug); err != nil {
				return err
			}
			monitoring.BuildInfo.WithLabelValues(version.Version, version.GitSHA).Set(1)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "tuning config file (.json, .toml or .yaml)")
	pf.StringVar(&a.dbPath, "db", "", "SQLite run catalogue; runs are not recorded when empty")
	pf.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile when done")
	pf.BoolVar(&a.debug, "debug", false, "development logging at debug level")
	pf.BoolVar(&a.dryRun, "dry-run", false, "list the runs that would be processed and exit")
	pf.BoolVar(&a.force, "force", false, "reprocess runs whose outputs already exist")
	pf.IntVar(&a.parallel, "parallel", 1, "run directories processed concurrently")
	pf.DurationVar(&a.progress, "progress", 10*time.Second, "progress log interval, 0 disables")

	root.AddCommand(
		newClusterCommand(a),
		newExtractCommand(a),
		newTriggerClusterCommand(a),
		newHeatmapCommand(a),
		newRunsCommand(a),
	)
	return root
}
