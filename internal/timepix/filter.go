package timepix

// Pixel is a sensor coordinate.
type Pixel struct {
	X, Y uint16
}

// PixelMask is a set of pixels to exclude from analysis, typically hot
// pixels found by a previous heatmap run.
type PixelMask map[Pixel]struct{}

// NewPixelMask builds a mask from a pixel list.
func NewPixelMask(pixels []Pixel) PixelMask {
	m := make(PixelMask, len(pixels))
	for _, p := range pixels {
		m[p] = struct{}{}
	}
	return m
}

// Contains reports whether (x, y) is masked.
func (m PixelMask) Contains(x, y uint16) bool {
	if len(m) == 0 {
		return false
	}
	_, ok := m[Pixel{X: x, Y: y}]
	return ok
}

// HitFilter drops hits before they reach an engine.
type HitFilter struct {
	// MinToT drops hits with ToT <= MinToT. Zero keeps zero-ToT hits.
	MinToT uint32
	Mask   PixelMask
}

// Keep reports whether h passes the filter.
func (f HitFilter) Keep(h Hit) bool {
	if f.MinToT > 0 && h.ToT <= f.MinToT {
		return false
	}
	return !f.Mask.Contains(h.X, h.Y)
}

// IsZero reports whether the filter passes every hit.
func (f HitFilter) IsZero() bool {
	return f.MinToT == 0 && len(f.Mask) == 0
}

// FilterSource applies a HitFilter to a HitSource. Dropped hits are
// counted and never reach the consumer, so HitIDs downstream refer to the
// filtered stream.
type FilterSource struct {
	src     HitSource
	filter  HitFilter
	Dropped uint64
}

// NewFilterSource wraps src. A zero filter returns a pass-through wrapper.
func NewFilterSource(src HitSource, filter HitFilter) *FilterSource {
	return &FilterSource{src: src, filter: filter}
}

// Next implements HitSource.
func (f *FilterSource) Next() (Hit, error) {
	for {
		h, err := f.src.Next()
		if err != nil {
			return h, err
		}
		if f.filter.Keep(h) {
			return h, nil
		}
		f.Dropped++
	}
}

// ClusterFilter drops clusters that are too small to keep. The zero value
// keeps every cluster.
type ClusterFilter struct {
	MinHits int
	MinToT  uint64
}

// Keep reports whether c passes the filter.
func (f ClusterFilter) Keep(c Cluster) bool {
	return c.Size() >= f.MinHits && c.SumToT >= f.MinToT
}
