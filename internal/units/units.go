// Package units converts between detector clock ticks and wall time, and
// parses and formats the human-readable counts used on the command line.
package units

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// Detector clock constants
const (
	// ToANanosPerTick is the period of the fine ToA clock (640MHz).
	ToANanosPerTick = 1.5625
	// ToTNanosPerADU is the ToT counter period (40MHz).
	ToTNanosPerADU = 25
)

// TicksFromNanos converts a duration in nanoseconds to ToA clock ticks,
// truncating towards zero.
func TicksFromNanos(ns uint64) uint64 {
	return uint64(float64(ns) / ToANanosPerTick)
}

// TicksFromMicros converts microseconds to ToA clock ticks.
func TicksFromMicros(us float64) uint64 {
	if us <= 0 {
		return 0
	}
	return uint64(us * 1000 / ToANanosPerTick)
}

// NanosFromTicks converts ToA clock ticks to nanoseconds.
func NanosFromTicks(ticks uint64) float64 {
	return float64(ticks) * ToANanosPerTick
}

// ToTNanos converts a ToT count to nanoseconds.
func ToTNanos(tot uint64) uint64 {
	return tot * ToTNanosPerADU
}

// ParseCount parses counts such as "2500", "10k", "1.5M" or "2B". The
// suffixes are case-insensitive and decimal: k = 1e3, m = 1e6, b = 1e9.
// An empty string parses as zero.
func ParseCount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	// humanize.ParseSI reads a lower-case m as milli and has no B suffix.
	norm := s
	switch s[len(s)-1] {
	case 'k', 'K':
		norm = s[:len(s)-1] + "k"
	case 'm', 'M':
		norm = s[:len(s)-1] + "M"
	case 'b', 'B':
		norm = s[:len(s)-1] + "G"
	}
	v, unit, err := humanize.ParseSI(norm)
	if err != nil || unit != "" {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	if v < 0 || v > math.MaxUint64 || math.IsNaN(v) {
		return 0, fmt.Errorf("count %q out of range", s)
	}
	return uint64(math.Round(v)), nil
}

// FormatCount renders n with thousands separators, e.g. 1,234,567.
func FormatCount(n uint64) string {
	if n > math.MaxInt64 {
		return humanize.Comma(math.MaxInt64)
	}
	return humanize.Comma(int64(n))
}
