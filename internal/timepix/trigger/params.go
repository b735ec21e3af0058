package trigger

import (
	"strconv"
	"strings"

	"github.com/banshee-data/timepix.report/internal/timepix"
)

// OverlapPolicy decides what happens to a hit that lies inside more than
// one open trigger window.
type OverlapPolicy int

const (
	// Independent adds the hit to every window containing it.
	Independent OverlapPolicy = iota
	// SplitAtMidpoint gives the hit to the window whose trigger timestamp is
	// nearest; exact ties go to the earlier trigger.
	SplitAtMidpoint
	// Exclusive drops the hit from all windows.
	Exclusive
)

var policyNames = map[OverlapPolicy]string{
	Independent:     "independent",
	SplitAtMidpoint: "split-at-midpoint",
	Exclusive:       "exclusive",
}

func (p OverlapPolicy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return "OverlapPolicy(" + strconv.Itoa(int(p)) + ")"
}

// Valid reports whether p is one of the defined variants.
func (p OverlapPolicy) Valid() bool {
	_, ok := policyNames[p]
	return ok
}

// ParsePolicy accepts the String() forms, case-insensitively. "split" and
// "midpoint" are accepted for SplitAtMidpoint.
func ParsePolicy(s string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "independent":
		return Independent, nil
	case "split-at-midpoint", "split", "midpoint":
		return SplitAtMidpoint, nil
	case "exclusive":
		return Exclusive, nil
	default:
		return 0, &timepix.ConfigError{
			Field:  "overlap_policy",
			Value:  s,
			Reason: "must be independent, split-at-midpoint or exclusive",
		}
	}
}

// assign returns the indices into open (ordered by trigger) that receive a
// hit at toa. open holds every window currently containing the hit.
func (p OverlapPolicy) assign(open []*timepix.TriggerWindow, toa uint64, dst []int) []int {
	dst = dst[:0]
	if len(open) == 1 {
		return append(dst, 0)
	}

	switch p {
	case SplitAtMidpoint:
		best := 0
		bestDist := distance(open[0].Trigger.Timestamp, toa)
		for i := 1; i < len(open); i++ {
			// Strictly nearer only: ties stay with the earlier trigger.
			if d := distance(open[i].Trigger.Timestamp, toa); d < bestDist {
				best, bestDist = i, d
			}
		}
		return append(dst, best)
	case Exclusive:
		return dst
	default:
		for i := range open {
			dst = append(dst, i)
		}
		return dst
	}
}

func distance(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// Params holds the window extraction configuration.
type Params struct {
	PreWindow  uint64 // Clock ticks before the trigger
	PostWindow uint64 // Clock ticks after the trigger
	Policy     OverlapPolicy
}

// Validate checks the parameter ranges. Pre/PostWindow are unsigned, so
// only the policy can be out of range.
func (p Params) Validate() error {
	if !p.Policy.Valid() {
		return &timepix.ConfigError{Field: "overlap_policy", Value: int(p.Policy), Reason: "unknown policy"}
	}
	return nil
}

// AcquisitionWindow derives Pre/PostWindow from a total window length and
// the percentage of it placed after the trigger. postPercent must be in
// (0, 100].
func AcquisitionWindow(total uint64, postPercent float64) (pre, post uint64, err error) {
	if postPercent <= 0 || postPercent > 100 {
		return 0, 0, &timepix.ConfigError{
			Field:  "post_trigger_percent",
			Value:  postPercent,
			Reason: "must be in (0, 100]",
		}
	}
	post = uint64(float64(total) * postPercent / 100)
	if post > total {
		post = total
	}
	return total - post, post, nil
}
