package cluster

import (
	"fmt"
	"strconv"

	"github.com/banshee-data/timepix.report/internal/timepix"
)

// Constants for clustering configuration
const (
	// DefaultSpatialRadius is the default neighbourhood radius in pixels.
	DefaultSpatialRadius = 1
	// DefaultTimeWindow is the default maximum ToA gap in clock ticks
	// (3200 ticks = 5µs at 1.5625ns per tick).
	DefaultTimeWindow = 3200
	// MaxSpatialRadius covers the full sensor diagonal.
	MaxSpatialRadius = 1 << 16
)

// Connectivity selects the spatial adjacency rule.
type Connectivity int

const (
	// Eight connects hits whose Chebyshev distance is within the radius.
	Eight Connectivity = 8
	// Four connects hits whose Manhattan distance is within the radius.
	Four Connectivity = 4
)

// Within reports whether a pixel offset (dx, dy) is adjacent under radius r.
func (c Connectivity) Within(dx, dy, r int) bool {
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	if c == Four {
		return dx+dy <= r
	}
	return dx <= r && dy <= r
}

// Valid reports whether c is one of the defined variants.
func (c Connectivity) Valid() bool { return c == Four || c == Eight }

func (c Connectivity) String() string {
	switch c {
	case Four:
		return "4"
	case Eight:
		return "8"
	default:
		return "Connectivity(" + strconv.Itoa(int(c)) + ")"
	}
}

// ParseConnectivity accepts "4" or "8".
func ParseConnectivity(s string) (Connectivity, error) {
	switch s {
	case "4":
		return Four, nil
	case "8":
		return Eight, nil
	default:
		return 0, &timepix.ConfigError{Field: "connectivity", Value: s, Reason: "must be 4 or 8"}
	}
}

// Params holds the clustering configuration. A Params value is copied into
// each Engine at construction and never changes afterwards.
type Params struct {
	SpatialRadius int          // Pixels, >= 0
	TimeWindow    uint64       // Clock ticks, > 0
	Connectivity  Connectivity // Four or Eight
}

// DefaultParams returns the default clustering parameters.
func DefaultParams() Params {
	return Params{
		SpatialRadius: DefaultSpatialRadius,
		TimeWindow:    DefaultTimeWindow,
		Connectivity:  Eight,
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if p.SpatialRadius < 0 || p.SpatialRadius > MaxSpatialRadius {
		return &timepix.ConfigError{
			Field:  "spatial_radius",
			Value:  p.SpatialRadius,
			Reason: fmt.Sprintf("must be between 0 and %d", MaxSpatialRadius),
		}
	}
	if p.TimeWindow == 0 {
		return &timepix.ConfigError{Field: "time_window", Value: p.TimeWindow, Reason: "must be > 0"}
	}
	if !p.Connectivity.Valid() {
		return &timepix.ConfigError{Field: "connectivity", Value: int(p.Connectivity), Reason: "must be 4 or 8"}
	}
	return nil
}
