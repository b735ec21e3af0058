package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/timepix.report/internal/fsutil"
	"github.com/banshee-data/timepix.report/internal/monitoring"
	"github.com/banshee-data/timepix.report/internal/security"
	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/timepix/hitio"
	"github.com/banshee-data/timepix.report/internal/timepix/runstore"
	"github.com/banshee-data/timepix.report/internal/units"
	"github.com/banshee-data/timepix.report/internal/version"
)

// errLimitReached stops an engine once an output limit is hit. It is not
// reported as a failure.
var errLimitReached = errors.New("output limit reached")

// job is one tool invocation over a set of run directories.
type job struct {
	tool     string
	required []string // Inputs a run directory must hold
	outputs  []string // Any of these marks the run as processed
	settings func(run fsutil.RunDir) string
	process  func(ctx context.Context, run fsutil.RunDir) (runstore.Result, error)
}

// runJob discovers the run directories matching patterns and processes
// them, a.parallel at a time. A failing run does not stop the others; all
// failures are returned together.
func (a *app) runJob(ctx context.Context, j job, patterns []string) (err error) {
	log := monitoring.Logger().With("tool", j.tool)
	for _, o := range j.outputs {
		if err := security.ValidateOutputName(o); err != nil {
			return fmt.Errorf("%w: %v", timepix.ErrConfig, err)
		}
	}

	var runs []fsutil.RunDir
	for _, pattern := range patterns {
		d, err := fsutil.DiscoverRuns(a.fsys, pattern, fsutil.DiscoverOptions{
			Required: j.required,
			Outputs:  j.outputs,
			Force:    a.force,
		})
		if err != nil {
			return err
		}
		for _, dir := range d.Processed {
			log.Debugw("skipping processed run", "run", dir)
		}
		for _, dir := range d.Missing {
			log.Debugw("skipping run with missing inputs", "run", dir, "required", j.required)
		}
		runs = append(runs, d.Runs...)
	}
	if len(runs) == 0 {
		log.Infow("no runs to process", "patterns", patterns)
		return nil
	}

	if a.dryRun {
		for _, r := range runs {
			fmt.Fprintf(a.stdout, "%s\t%s\n", r.Path, humanize.Bytes(uint64(r.InputSize)))
		}
		return nil
	}

	var store *runstore.Store
	if a.dbPath != "" {
		if store, err = runstore.Open(a.dbPath, a.clock); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, store.Close()) }()
	}
	if a.metricsFile != "" {
		defer func() { err = multierr.Append(err, monitoring.WriteTextfile(a.metricsFile)) }()
	}

	log.Infow("processing runs", "count", len(runs), "parallel", a.parallel)

	var (
		mu   sync.Mutex
		errs error
	)
	g := new(errgroup.Group)
	g.SetLimit(max(a.parallel, 1))
	for _, r := range runs {
		r := r
		g.Go(func() error {
			if err := a.runOne(ctx, store, j, r); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.Path, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := len(multierr.Errors(errs)); n > 0 {
		log.Errorw("runs failed", "failed", n, "total", len(runs))
	}
	return errs
}

// runOne processes a single run directory and records the outcome.
func (a *app) runOne(ctx context.Context, store *runstore.Store, j job, r fsutil.RunDir) error {
	log := monitoring.Logger().With("tool", j.tool, "run", r.Name)
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, o := range j.outputs {
		if err := security.WithinDirectory(filepath.Join(r.Path, o), r.Path); err != nil {
			return err
		}
	}

	var id string
	if store != nil {
		var err error
		id, err = store.Start(ctx, runstore.Run{
			Tool:      j.tool,
			InputDir:  r.Path,
			OutputDir: r.Path,
			Settings:  j.settings(r),
			Version:   version.Version,
		})
		if err != nil {
			return err
		}
	}

	start := a.clock.Now()
	res, err := j.process(ctx, r)
	elapsed := a.clock.Since(start)

	status := runstore.StatusComplete
	if err != nil {
		status = runstore.StatusFailed
	}
	monitoring.Runs.WithLabelValues(j.tool, status).Inc()
	monitoring.RunDuration.WithLabelValues(j.tool).Observe(elapsed.Seconds())

	if store != nil {
		// Record the outcome even when ctx was cancelled.
		rctx := context.WithoutCancel(ctx)
		if err != nil {
			err = multierr.Append(err, store.Fail(rctx, id, res, err))
		} else {
			err = store.Finish(rctx, id, res)
		}
	}

	if err != nil {
		log.Errorw("run failed", "error", err, "elapsed", elapsed.Round(time.Millisecond))
		return err
	}
	log.Infow("run complete",
		"hits", units.FormatCount(res.HitsRead),
		"events", units.FormatCount(res.Events),
		"clusters", units.FormatCount(res.Clusters),
		"windows", units.FormatCount(res.Windows),
		"elapsed", elapsed.Round(time.Millisecond))
	return nil
}

// countingSource counts the hits pulled through it. The count is read by
// the progress logger while the engine runs.
type countingSource struct {
	src timepix.HitSource
	n   atomic.Uint64
}

func (c *countingSource) Next() (timepix.Hit, error) {
	h, err := c.src.Next()
	if err == nil {
		c.n.Add(1)
	}
	return h, err
}

// trackProgress logs the hits read from src every a.progress until the
// returned stop function is called.
func (a *app) trackProgress(tool string, r fsutil.RunDir, src *countingSource) (stop func()) {
	if a.progress <= 0 {
		return func() {}
	}
	total := uint64(r.InputSize / hitio.RecordSize)
	log := monitoring.Logger().With("tool", tool, "run", r.Name)

	ticker := a.clock.NewTicker(a.progress)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C():
				n := src.n.Load()
				if total > 0 {
					log.Infow("progress", "hits", units.FormatCount(n), "percent", fmt.Sprintf("%.1f", float64(n)*100/float64(total)))
				} else {
					log.Infow("progress", "hits", units.FormatCount(n))
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
