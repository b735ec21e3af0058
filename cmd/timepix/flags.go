package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/timepix.report/internal/config"
	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/timepix/cluster"
	"github.com/banshee-data/timepix.report/internal/timepix/report"
	"github.com/banshee-data/timepix.report/internal/timepix/trigger"
)

// Flag names match the config keys with '-' for '_', so loadConfig can
// bind them by name.

func addClusterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("max-pixel-gap", config.DefaultMaxPixelGap, "maximum pixel distance between neighbouring hits")
	f.Uint64("max-toa-gap-ns", config.DefaultMaxToAGapNanos, "maximum ToA gap between neighbouring hits (ns)")
	f.Int("connectivity", int(cluster.Eight), "pixel neighbourhood, 4 or 8")
	f.Int("min-cluster-hits", 0, "drop clusters with fewer hits")
	f.Uint64("min-cluster-tot", 0, "drop clusters with a smaller summed ToT")
}

func addHitFilterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Uint32("min-hit-tot", 0, "drop hits with ToT at or below this value")
	f.String("hot-pixel-file", "", "hot_pixels.csv whose pixels are masked")
}

func addWindowFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64("window-size-us", config.DefaultWindowSizeMicros, "acquisition window length (µs)")
	f.Float64("post-trigger-percent", config.DefaultPostTriggerPercent, "share of the window after the trigger, in (0, 100]")
	f.String("overlap-policy", trigger.Independent.String(), "independent, split-at-midpoint or exclusive")
	f.String("max-triggers", "", "stop after this many triggers, e.g. 10k")
}

func addOutputFlags(cmd *cobra.Command, name string) *string {
	f := cmd.Flags()
	f.Bool("relative-toa", false, "write ToA relative to the event start")
	return f.String("filename", name, "output name without extension")
}

// loadConfig resolves the tuning config. Precedence: flags set on the
// command line, TIMEPIX_* environment, --config file, flag defaults.
func (a *app) loadConfig(cmd *cobra.Command) (*config.TuningConfig, error) {
	v := config.NewViper()
	if a.configPath != "" {
		if err := config.ReadFile(v, a.configPath); err != nil {
			return nil, err
		}
	}
	for _, key := range config.Keys {
		if f := cmd.Flags().Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding --%s: %w", f.Name, err)
			}
		}
	}
	return config.Decode(v)
}

// hitFilter merges the configured hit filter with the pixels of the hot
// pixel file, if any.
func (a *app) hitFilter(cfg *config.TuningConfig) (timepix.HitFilter, error) {
	f := cfg.HitFilter()
	path := cfg.GetHotPixelFile()
	if path == "" {
		return f, nil
	}

	data, err := a.fsys.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("reading hot pixel file: %w", err)
	}
	pixels, err := report.ReadHotPixels(bytes.NewReader(data), 0)
	if err != nil {
		return f, fmt.Errorf("%s: %w", path, err)
	}
	for p := range f.Mask {
		pixels = append(pixels, p)
	}
	f.Mask = timepix.NewPixelMask(pixels)
	return f, nil
}
