package report

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/banshee-data/timepix.report/internal/timepix"
)

// PixelMode selects what a PixelMap accumulates.
type PixelMode int

const (
	// CountHits counts hits per pixel.
	CountHits PixelMode = iota
	// SumToT sums ToT per pixel.
	SumToT
)

func (m PixelMode) String() string {
	if m == SumToT {
		return "sum-tot"
	}
	return "hits"
}

// PixelMap accumulates a value per sensor pixel.
type PixelMap struct {
	Mode    PixelMode
	values  []uint64
	Hits    uint64
	Outside uint64 // Hits with coordinates off the sensor
}

// NewPixelMap returns an empty map covering the whole sensor.
func NewPixelMap(mode PixelMode) *PixelMap {
	return &PixelMap{Mode: mode, values: make([]uint64, timepix.SensorColumns*timepix.SensorRows)}
}

// Add accumulates h.
func (m *PixelMap) Add(h timepix.Hit) {
	if int(h.X) >= timepix.SensorColumns || int(h.Y) >= timepix.SensorRows {
		m.Outside++
		return
	}
	m.Hits++
	i := int(h.Y)*timepix.SensorColumns + int(h.X)
	if m.Mode == SumToT {
		m.values[i] += uint64(h.ToT)
		return
	}
	m.values[i]++
}

// At returns the value of pixel (x, y).
func (m *PixelMap) At(x, y int) uint64 {
	return m.values[y*timepix.SensorColumns+x]
}

// Max returns the largest pixel value.
func (m *PixelMap) Max() uint64 {
	var max uint64
	for _, v := range m.values {
		if v > max {
			max = v
		}
	}
	return max
}

// Accumulate drains src into m and returns the number of hits read.
func (m *PixelMap) Accumulate(src timepix.HitSource) (uint64, error) {
	var n uint64
	for {
		h, err := src.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		m.Add(h)
		n++
	}
}

// WriteMatrix writes the map as CSV, one line per row and one column per
// sensor column, without a header.
func (m *PixelMap) WriteMatrix(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var line []byte
	for y := 0; y < timepix.SensorRows; y++ {
		line = line[:0]
		for x := 0; x < timepix.SensorColumns; x++ {
			if x > 0 {
				line = append(line, ',')
			}
			line = strconv.AppendUint(line, m.At(x, y), 10)
		}
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// PixelCount is one entry of a hot pixel list.
type PixelCount struct {
	X, Y  int
	Value uint64
}

// Hottest returns the n pixels with the largest values, largest first.
// Ties are ordered by row, then column. Pixels with value zero are never
// returned.
func (m *PixelMap) Hottest(n int) []PixelCount {
	all := make([]PixelCount, 0, 1024)
	for i, v := range m.values {
		if v == 0 {
			continue
		}
		all = append(all, PixelCount{X: i % timepix.SensorColumns, Y: i / timepix.SensorColumns, Value: v})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Value > all[j].Value })
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

var hotPixelHeader = []string{"pos", "x", "y", "hits"}

// WriteHotPixels writes a ranked hot pixel list as CSV.
func WriteHotPixels(w io.Writer, pixels []PixelCount) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(hotPixelHeader); err != nil {
		return err
	}
	for i, p := range pixels {
		rec := []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(p.X),
			strconv.Itoa(p.Y),
			strconv.FormatUint(p.Value, 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadHotPixels reads a list written by WriteHotPixels. Only the first
// limit entries are returned; limit <= 0 returns all of them.
func ReadHotPixels(r io.Reader, limit int) ([]timepix.Pixel, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(hotPixelHeader)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("hot pixels: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("hot pixels: missing header")
	}
	rows = rows[1:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	pixels := make([]timepix.Pixel, 0, len(rows))
	for i, row := range rows {
		x, errX := strconv.Atoi(row[1])
		y, errY := strconv.Atoi(row[2])
		if err := errors.Join(errX, errY); err != nil {
			return nil, fmt.Errorf("hot pixels line %d: %w", i+2, err)
		}
		if x < 0 || x >= timepix.SensorColumns || y < 0 || y >= timepix.SensorRows {
			return nil, fmt.Errorf("hot pixels line %d: (%d, %d) outside the sensor", i+2, x, y)
		}
		pixels = append(pixels, timepix.Pixel{X: uint16(x), Y: uint16(y)})
	}
	return pixels, nil
}
