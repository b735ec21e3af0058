package main

import (
	"github.com/BurntSushi/toml"

	"github.com/banshee-data/timepix.report/internal/config"
	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/version"
)

// settings is written next to every output as <name>.toml and stored with
// the run in the catalogue.
type settings struct {
	Tool    string `toml:"tool"`
	Version string `toml:"version"`
	Output  string `toml:"output"`

	MinHitToT    uint32 `toml:"min_hit_tot"`
	MaskedPixels int    `toml:"masked_pixels"`
	HotPixelFile string `toml:"hot_pixel_file,omitempty"`
	RelativeToA  bool   `toml:"relative_toa"`

	Cluster *clusterSettings `toml:"cluster,omitempty"`
	Window  *windowSettings  `toml:"window,omitempty"`
}

type clusterSettings struct {
	MaxPixelGap    int    `toml:"max_pixel_gap"`
	MaxToAGapNanos uint64 `toml:"max_toa_gap_ns"`
	TimeWindow     uint64 `toml:"time_window_ticks"`
	Connectivity   int    `toml:"connectivity"`
	MinClusterHits int    `toml:"min_cluster_hits"`
	MinClusterToT  uint64 `toml:"min_cluster_tot"`
	MaxClusters    uint64 `toml:"max_clusters,omitempty"`
	SingleCluster  bool   `toml:"single_cluster,omitempty"`
}

type windowSettings struct {
	WindowSizeMicros   float64 `toml:"window_size_us"`
	PostTriggerPercent float64 `toml:"post_trigger_percent"`
	PreWindow          uint64  `toml:"pre_window_ticks"`
	PostWindow         uint64  `toml:"post_window_ticks"`
	OverlapPolicy      string  `toml:"overlap_policy"`
	MinEventHits       int     `toml:"min_event_hits,omitempty"`
	WriteEmpty         bool    `toml:"write_empty,omitempty"`
	MaxTriggers        uint64  `toml:"max_triggers,omitempty"`
}

func newSettings(tool, output string, cfg *config.TuningConfig, filter timepix.HitFilter) settings {
	return settings{
		Tool:         tool,
		Version:      version.Version,
		Output:       output,
		MinHitToT:    filter.MinToT,
		MaskedPixels: len(filter.Mask),
		HotPixelFile: cfg.GetHotPixelFile(),
		RelativeToA:  cfg.GetRelativeToA(),
	}
}

// withCluster fills the clustering section. cfg must already be validated.
func (s settings) withCluster(cfg *config.TuningConfig) settings {
	p, _ := cfg.ClusterParams()
	s.Cluster = &clusterSettings{
		MaxPixelGap:    cfg.GetMaxPixelGap(),
		MaxToAGapNanos: cfg.GetMaxToAGapNanos(),
		TimeWindow:     p.TimeWindow,
		Connectivity:   cfg.GetConnectivity(),
		MinClusterHits: cfg.GetMinClusterHits(),
		MinClusterToT:  cfg.GetMinClusterToT(),
		MaxClusters:    cfg.GetMaxClusters(),
	}
	return s
}

// withWindow fills the trigger window section. cfg must already be
// validated.
func (s settings) withWindow(cfg *config.TuningConfig) settings {
	p, _ := cfg.WindowParams()
	s.Window = &windowSettings{
		WindowSizeMicros:   cfg.GetWindowSizeMicros(),
		PostTriggerPercent: cfg.GetPostTriggerPercent(),
		PreWindow:          p.PreWindow,
		PostWindow:         p.PostWindow,
		OverlapPolicy:      p.Policy.String(),
		MinEventHits:       cfg.GetMinEventHits(),
		WriteEmpty:         cfg.GetWriteEmpty(),
		MaxTriggers:        cfg.GetMaxTriggers(),
	}
	return s
}

func (s settings) String() string {
	b, err := toml.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}
