package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/timepix/cluster"
	"github.com/banshee-data/timepix.report/internal/timepix/trigger"
	"github.com/banshee-data/timepix.report/internal/units"
)

// EnvPrefix prefixes environment overrides, e.g. TIMEPIX_MAX_PIXEL_GAP.
const EnvPrefix = "TIMEPIX"

// Defaults for fields left unset.
const (
	DefaultMaxPixelGap        = cluster.DefaultSpatialRadius
	DefaultMaxToAGapNanos     = 5000
	DefaultWindowSizeMicros   = 10.0
	DefaultPostTriggerPercent = 50.0
)

// TuningConfig holds the processing parameters shared by every tool. All
// fields are optional; the Get* methods supply defaults for fields left
// unset, so partial files are safe.
type TuningConfig struct {
	// Clustering
	MaxPixelGap    *int    `json:"max_pixel_gap,omitempty" mapstructure:"max_pixel_gap"`
	MaxToAGapNanos *uint64 `json:"max_toa_gap_ns,omitempty" mapstructure:"max_toa_gap_ns"`
	Connectivity   *int    `json:"connectivity,omitempty" mapstructure:"connectivity"` // 4 or 8

	// Hit and cluster filters
	MinHitToT      *uint32  `json:"min_hit_tot,omitempty" mapstructure:"min_hit_tot"`
	MinClusterHits *int     `json:"min_cluster_hits,omitempty" mapstructure:"min_cluster_hits"`
	MinClusterToT  *uint64  `json:"min_cluster_tot,omitempty" mapstructure:"min_cluster_tot"`
	MaxClusters    *string  `json:"max_clusters,omitempty" mapstructure:"max_clusters"` // count like "10M"
	HotPixelFile   *string  `json:"hot_pixel_file,omitempty" mapstructure:"hot_pixel_file"`
	HotPixels      [][2]int `json:"hot_pixels,omitempty" mapstructure:"hot_pixels"`

	// Trigger windows
	WindowSizeMicros   *float64 `json:"window_size_us,omitempty" mapstructure:"window_size_us"`
	PostTriggerPercent *float64 `json:"post_trigger_percent,omitempty" mapstructure:"post_trigger_percent"`
	OverlapPolicy      *string  `json:"overlap_policy,omitempty" mapstructure:"overlap_policy"`
	MinEventHits       *int     `json:"min_event_hits,omitempty" mapstructure:"min_event_hits"`
	WriteEmpty         *bool    `json:"write_empty,omitempty" mapstructure:"write_empty"`
	MaxTriggers        *string  `json:"max_triggers,omitempty" mapstructure:"max_triggers"`

	// Output and execution
	RelativeToA *bool `json:"relative_toa,omitempty" mapstructure:"relative_toa"`
	Workers     *int  `json:"workers,omitempty" mapstructure:"workers"`
	BatchSize   *int  `json:"batch_size,omitempty" mapstructure:"batch_size"`
}

// Keys lists every scalar configuration key. Each can be overridden by an
// environment variable.
var Keys = []string{
	"max_pixel_gap", "max_toa_gap_ns", "connectivity",
	"min_hit_tot", "min_cluster_hits", "min_cluster_tot", "max_clusters", "hot_pixel_file",
	"window_size_us", "post_trigger_percent", "overlap_policy", "min_event_hits", "write_empty", "max_triggers",
	"relative_toa", "workers", "batch_size",
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every defaulted field
// set explicitly.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		MaxPixelGap:        ptrInt(DefaultMaxPixelGap),
		MaxToAGapNanos:     ptrUint64(DefaultMaxToAGapNanos),
		Connectivity:       ptrInt(int(cluster.Eight)),
		WindowSizeMicros:   ptrFloat64(DefaultWindowSizeMicros),
		PostTriggerPercent: ptrFloat64(DefaultPostTriggerPercent),
		OverlapPolicy:      ptrString(trigger.Independent.String()),
		WriteEmpty:         ptrBool(false),
		RelativeToA:        ptrBool(false),
	}
}

// NewViper returns a viper instance with environment overrides bound for
// every key.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, k := range Keys {
		_ = v.BindEnv(k)
	}
	return v
}

// ReadFile loads a JSON, TOML or YAML config file into v.
func ReadFile(v *viper.Viper, path string) error {
	cleanPath := filepath.Clean(path)
	switch ext := filepath.Ext(cleanPath); ext {
	case ".json", ".toml", ".yaml", ".yml":
	default:
		return fmt.Errorf("config file must be .json, .toml or .yaml, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	v.SetConfigFile(cleanPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Decode builds a validated TuningConfig from v.
func Decode(v *viper.Viper) (*TuningConfig, error) {
	cfg := EmptyTuningConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadTuningConfig loads a TuningConfig from a file, applying TIMEPIX_*
// environment overrides.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	v := NewViper()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// Validate checks that the configuration values are valid. Engine
// parameter ranges are checked again by the engines themselves.
func (c *TuningConfig) Validate() error {
	if _, err := c.ClusterParams(); err != nil {
		return err
	}
	if _, err := c.WindowParams(); err != nil {
		return err
	}
	if c.MaxClusters != nil {
		if _, err := units.ParseCount(*c.MaxClusters); err != nil {
			return fmt.Errorf("max_clusters: %w", err)
		}
	}
	if c.MaxTriggers != nil {
		if _, err := units.ParseCount(*c.MaxTriggers); err != nil {
			return fmt.Errorf("max_triggers: %w", err)
		}
	}
	for _, p := range c.HotPixels {
		if p[0] < 0 || p[0] >= timepix.SensorColumns || p[1] < 0 || p[1] >= timepix.SensorRows {
			return fmt.Errorf("hot pixel (%d, %d) outside the sensor", p[0], p[1])
		}
	}
	if c.MinClusterHits != nil && *c.MinClusterHits < 0 {
		return fmt.Errorf("min_cluster_hits must be non-negative, got %d", *c.MinClusterHits)
	}
	if c.MinEventHits != nil && *c.MinEventHits < 0 {
		return fmt.Errorf("min_event_hits must be non-negative, got %d", *c.MinEventHits)
	}
	if c.WindowSizeMicros != nil && *c.WindowSizeMicros <= 0 {
		return fmt.Errorf("window_size_us must be positive, got %g", *c.WindowSizeMicros)
	}
	return nil
}

// ClusterParams returns the clustering engine parameters.
func (c *TuningConfig) ClusterParams() (cluster.Params, error) {
	p := cluster.Params{
		SpatialRadius: c.GetMaxPixelGap(),
		TimeWindow:    units.TicksFromNanos(c.GetMaxToAGapNanos()),
		Connectivity:  cluster.Connectivity(c.GetConnectivity()),
	}
	return p, p.Validate()
}

// WindowParams returns the trigger window parameters, derived from the
// acquisition window size and the share of it after the trigger.
func (c *TuningConfig) WindowParams() (trigger.Params, error) {
	policy, err := trigger.ParsePolicy(c.GetOverlapPolicy())
	if err != nil {
		return trigger.Params{}, err
	}
	total := units.TicksFromMicros(c.GetWindowSizeMicros())
	pre, post, err := trigger.AcquisitionWindow(total, c.GetPostTriggerPercent())
	if err != nil {
		return trigger.Params{}, err
	}
	return trigger.Params{PreWindow: pre, PostWindow: post, Policy: policy}, nil
}

// HitFilter returns the hit filter for the configured ToT threshold and the
// inline hot pixel list. Pixels from HotPixelFile are added by the caller.
func (c *TuningConfig) HitFilter() timepix.HitFilter {
	f := timepix.HitFilter{MinToT: c.GetMinHitToT()}
	if len(c.HotPixels) > 0 {
		pixels := make([]timepix.Pixel, len(c.HotPixels))
		for i, p := range c.HotPixels {
			pixels[i] = timepix.Pixel{X: uint16(p[0]), Y: uint16(p[1])}
		}
		f.Mask = timepix.NewPixelMask(pixels)
	}
	return f
}

// ClusterFilter returns the minimum cluster size and ToT filter.
func (c *TuningConfig) ClusterFilter() timepix.ClusterFilter {
	return timepix.ClusterFilter{MinHits: c.GetMinClusterHits(), MinToT: c.GetMinClusterToT()}
}

// GetMaxPixelGap returns the max_pixel_gap value or the default.
func (c *TuningConfig) GetMaxPixelGap() int {
	if c.MaxPixelGap == nil {
		return DefaultMaxPixelGap
	}
	return *c.MaxPixelGap
}

// GetMaxToAGapNanos returns the max_toa_gap_ns value or the default (5µs).
func (c *TuningConfig) GetMaxToAGapNanos() uint64 {
	if c.MaxToAGapNanos == nil {
		return DefaultMaxToAGapNanos
	}
	return *c.MaxToAGapNanos
}

// GetConnectivity returns the connectivity value or the default.
func (c *TuningConfig) GetConnectivity() int {
	if c.Connectivity == nil {
		return int(cluster.Eight)
	}
	return *c.Connectivity
}

// GetMinHitToT returns the min_hit_tot value or the default.
func (c *TuningConfig) GetMinHitToT() uint32 {
	if c.MinHitToT == nil {
		return 0
	}
	return *c.MinHitToT
}

// GetMinClusterHits returns the min_cluster_hits value or the default.
func (c *TuningConfig) GetMinClusterHits() int {
	if c.MinClusterHits == nil {
		return 0
	}
	return *c.MinClusterHits
}

// GetMinClusterToT returns the min_cluster_tot value or the default.
func (c *TuningConfig) GetMinClusterToT() uint64 {
	if c.MinClusterToT == nil {
		return 0
	}
	return *c.MinClusterToT
}

// GetMaxClusters returns the max_clusters limit; zero means unlimited.
func (c *TuningConfig) GetMaxClusters() uint64 {
	if c.MaxClusters == nil {
		return 0
	}
	n, err := units.ParseCount(*c.MaxClusters)
	if err != nil {
		return 0
	}
	return n
}

// GetHotPixelFile returns the hot pixel list path, or "".
func (c *TuningConfig) GetHotPixelFile() string {
	if c.HotPixelFile == nil {
		return ""
	}
	return *c.HotPixelFile
}

// GetWindowSizeMicros returns the window_size_us value or the default.
func (c *TuningConfig) GetWindowSizeMicros() float64 {
	if c.WindowSizeMicros == nil {
		return DefaultWindowSizeMicros
	}
	return *c.WindowSizeMicros
}

// GetPostTriggerPercent returns the post_trigger_percent value or the default.
func (c *TuningConfig) GetPostTriggerPercent() float64 {
	if c.PostTriggerPercent == nil {
		return DefaultPostTriggerPercent
	}
	return *c.PostTriggerPercent
}

// GetOverlapPolicy returns the overlap_policy value or the default.
func (c *TuningConfig) GetOverlapPolicy() string {
	if c.OverlapPolicy == nil {
		return trigger.Independent.String()
	}
	return *c.OverlapPolicy
}

// GetMinEventHits returns the min_event_hits value or the default.
func (c *TuningConfig) GetMinEventHits() int {
	if c.MinEventHits == nil {
		return 0
	}
	return *c.MinEventHits
}

// GetWriteEmpty returns the write_empty value or the default.
func (c *TuningConfig) GetWriteEmpty() bool {
	if c.WriteEmpty == nil {
		return false
	}
	return *c.WriteEmpty
}

// GetMaxTriggers returns the max_triggers limit; zero means unlimited.
func (c *TuningConfig) GetMaxTriggers() uint64 {
	if c.MaxTriggers == nil {
		return 0
	}
	n, err := units.ParseCount(*c.MaxTriggers)
	if err != nil {
		return 0
	}
	return n
}

// GetRelativeToA returns the relative_toa value or the default.
func (c *TuningConfig) GetRelativeToA() bool {
	if c.RelativeToA == nil {
		return false
	}
	return *c.RelativeToA
}

// GetWorkers returns the workers value; zero selects GOMAXPROCS.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetBatchSize returns the batch_size value; zero selects the pipeline
// default.
func (c *TuningConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 0
	}
	return *c.BatchSize
}
