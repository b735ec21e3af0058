package timepix

import "math"

// Sensor geometry for a single Timepix3 chip.
const (
	SensorColumns = 256
	SensorRows    = 256
)

// HitID identifies a hit by its zero-based position in the stream that was
// fed to an engine. Two hits with identical fields are still distinct.
type HitID uint64

// Hit is one detected pixel event.
type Hit struct {
	X   uint16 // Column
	Y   uint16 // Row
	ToA uint64 // Time of arrival in clock ticks
	ToT uint32 // Time over threshold (energy proxy)
}

// IsZero reports whether all fields are zero. The all-zero record is
// reserved as a terminator in the binary cluster format.
func (h Hit) IsZero() bool {
	return h.X == 0 && h.Y == 0 && h.ToA == 0 && h.ToT == 0
}

// Trigger is an external timestamped pulse.
type Trigger struct {
	ID        uint32
	Timestamp uint64 // Same clock domain as Hit.ToA
}

// Cluster is a maximal set of hits connected by chained spatio-temporal
// adjacency, produced by one clustering pass.
type Cluster struct {
	ID     uint64
	HitIDs []HitID // Ascending
	Hits   []Hit   // Same order as HitIDs

	CentroidX float64 // ToT-weighted column
	CentroidY float64 // ToT-weighted row
	SumToT    uint64
	TMin      uint64
	TMax      uint64
}

// Size returns the number of member hits.
func (c Cluster) Size() int { return len(c.HitIDs) }

// Duration returns the ToA span in clock ticks.
func (c Cluster) Duration() uint64 { return c.TMax - c.TMin }

// NewCluster builds a Cluster and its aggregates from parallel id/hit
// slices. The slices are retained, not copied.
func NewCluster(id uint64, ids []HitID, hits []Hit) Cluster {
	c := Cluster{ID: id, HitIDs: ids, Hits: hits}
	if len(hits) == 0 {
		return c
	}

	c.TMin, c.TMax = hits[0].ToA, hits[0].ToA
	var wx, wy, sx, sy float64
	for _, h := range hits {
		c.SumToT += uint64(h.ToT)
		wx += float64(h.X) * float64(h.ToT)
		wy += float64(h.Y) * float64(h.ToT)
		sx += float64(h.X)
		sy += float64(h.Y)
		if h.ToA < c.TMin {
			c.TMin = h.ToA
		}
		if h.ToA > c.TMax {
			c.TMax = h.ToA
		}
	}

	// Zero total ToT falls back to the geometric mean position.
	if c.SumToT > 0 {
		c.CentroidX = wx / float64(c.SumToT)
		c.CentroidY = wy / float64(c.SumToT)
	} else {
		n := float64(len(hits))
		c.CentroidX = sx / n
		c.CentroidY = sy / n
	}
	return c
}

// TriggerWindow is the set of hits attributed to one trigger.
type TriggerWindow struct {
	Trigger Trigger
	Start   uint64 // Inclusive
	End     uint64 // Inclusive

	HitIDs []HitID
	Hits   []Hit

	// Contested counts hits that fell inside this window and at least one
	// other open window, whatever the overlap policy did with them.
	Contested int
}

// Size returns the number of hits assigned to the window.
func (w TriggerWindow) Size() int { return len(w.HitIDs) }

// Contains reports whether toa lies within the window bounds.
func (w TriggerWindow) Contains(toa uint64) bool {
	return toa >= w.Start && toa <= w.End
}

// SumToT returns the total ToT of the assigned hits.
func (w TriggerWindow) SumToT() uint64 {
	var sum uint64
	for _, h := range w.Hits {
		sum += uint64(h.ToT)
	}
	return sum
}

// WindowBounds returns [ts-pre, ts+post], saturating at the uint64 range.
func WindowBounds(ts, pre, post uint64) (start, end uint64) {
	if pre > ts {
		start = 0
	} else {
		start = ts - pre
	}
	if post > math.MaxUint64-ts {
		end = math.MaxUint64
	} else {
		end = ts + post
	}
	return start, end
}
