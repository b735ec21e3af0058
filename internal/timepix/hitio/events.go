package hitio

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/units"
)

// Metadata describes one event written to an event file.
type Metadata struct {
	Event    uint64  // Cluster number or trigger ID
	Time     float64 // Event start, ns
	Duration float64 // ns
	Hits     int
	SumToT   uint64
	Offset   int64 // Byte offset of the event in the .bin file
}

var metadataHeader = []string{"event", "time", "duration", "hits", "sum_tot", "offset"}

func (m Metadata) record(dst []string) []string {
	return append(dst[:0],
		strconv.FormatUint(m.Event, 10),
		strconv.FormatFloat(m.Time, 'f', -1, 64),
		strconv.FormatFloat(m.Duration, 'f', -1, 64),
		strconv.Itoa(m.Hits),
		strconv.FormatUint(m.SumToT, 10),
		strconv.FormatInt(m.Offset, 10),
	)
}

// EventWriter writes events as terminated hit runs plus one metadata row
// each.
type EventWriter struct {
	bin      *bufio.Writer
	meta     *csv.Writer
	relative bool

	buf    [RecordSize]byte
	row    []string
	offset int64
	events uint64
	hits   uint64
}

// NewEventWriter writes event records to bin and metadata rows to meta.
// With relative set, hit ToA is stored relative to the event start.
func NewEventWriter(bin, meta io.Writer, relative bool) (*EventWriter, error) {
	ew := &EventWriter{
		bin:      bufio.NewWriterSize(bin, bufferSize),
		meta:     csv.NewWriter(meta),
		relative: relative,
	}
	if err := ew.meta.Write(metadataHeader); err != nil {
		return nil, err
	}
	return ew, nil
}

// WriteEvent appends one event spanning [start, end] ticks.
func (ew *EventWriter) WriteEvent(id, start, end uint64, hits []timepix.Hit) error {
	var sumToT uint64
	for i, h := range hits {
		if ew.relative {
			if h.ToA < start {
				return fmt.Errorf("event %d hit %d: toa %d before event start %d", id, i, h.ToA, start)
			}
			h.ToA -= start
		}
		if h.IsZero() {
			return fmt.Errorf("event %d hit %d: %w", id, i, ErrNullHit)
		}
		putHit(ew.buf[:], h)
		if _, err := ew.bin.Write(ew.buf[:]); err != nil {
			return err
		}
		sumToT += uint64(h.ToT)
	}
	var zero [RecordSize]byte
	if _, err := ew.bin.Write(zero[:]); err != nil {
		return err
	}

	var duration float64
	if end > start {
		duration = units.NanosFromTicks(end - start)
	}
	ew.row = Metadata{
		Event:    id,
		Time:     units.NanosFromTicks(start),
		Duration: duration,
		Hits:     len(hits),
		SumToT:   sumToT,
		Offset:   ew.offset,
	}.record(ew.row)
	if err := ew.meta.Write(ew.row); err != nil {
		return err
	}

	ew.offset += int64(len(hits)+1) * RecordSize
	ew.events++
	ew.hits += uint64(len(hits))
	return nil
}

// WriteCluster writes c as one event, numbered by its ID.
func (ew *EventWriter) WriteCluster(c timepix.Cluster) error {
	return ew.WriteEvent(c.ID, c.TMin, c.TMax, c.Hits)
}

// WriteWindow writes w as one event, numbered by its trigger ID.
func (ew *EventWriter) WriteWindow(w timepix.TriggerWindow) error {
	return ew.WriteEvent(uint64(w.Trigger.ID), w.Start, w.End, w.Hits)
}

// Events returns the number of events written.
func (ew *EventWriter) Events() uint64 { return ew.events }

// Hits returns the number of hit records written, terminators excluded.
func (ew *EventWriter) Hits() uint64 { return ew.hits }

// Flush writes buffered data to both outputs.
func (ew *EventWriter) Flush() error {
	if err := ew.bin.Flush(); err != nil {
		return err
	}
	ew.meta.Flush()
	return ew.meta.Error()
}

// EventReader reads back an event file. Each call to Next returns the
// hits of one event.
type EventReader struct {
	r      *bufio.Reader
	closer io.Closer
	buf    [RecordSize]byte
	n      uint64
}

// NewEventReader reads events from r.
func NewEventReader(r io.Reader) *EventReader {
	er := &EventReader{r: bufio.NewReaderSize(r, bufferSize)}
	if c, ok := r.(io.Closer); ok {
		er.closer = c
	}
	return er
}

// OpenEvents opens an event .bin file.
func OpenEvents(path string) (*EventReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening events: %w", err)
	}
	return NewEventReader(f), nil
}

// Next returns the next event, or io.EOF. Trailing hits without a
// terminator are an error.
func (er *EventReader) Next() ([]timepix.Hit, error) {
	hits := []timepix.Hit{}
	for {
		h, err := readRecord(er.r, er.buf[:])
		if err == io.EOF {
			if len(hits) > 0 {
				return nil, fmt.Errorf("event %d: missing terminator", er.n)
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("event %d: truncated: %w", er.n, err)
		}
		if h.IsZero() {
			er.n++
			return hits, nil
		}
		hits = append(hits, h)
	}
}

// Close closes the underlying file, if any.
func (er *EventReader) Close() error {
	if er.closer == nil {
		return nil
	}
	return er.closer.Close()
}

// ReadMetadata parses a metadata CSV.
func ReadMetadata(r io.Reader) ([]Metadata, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(metadataHeader)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("metadata: missing header")
	}

	out := make([]Metadata, 0, len(rows)-1)
	for i, row := range rows[1:] {
		m, err := parseMetadata(row)
		if err != nil {
			return nil, fmt.Errorf("metadata line %d: %w", i+2, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func parseMetadata(row []string) (Metadata, error) {
	var m Metadata
	var err error
	if m.Event, err = strconv.ParseUint(row[0], 10, 64); err != nil {
		return m, err
	}
	if m.Time, err = strconv.ParseFloat(row[1], 64); err != nil {
		return m, err
	}
	if m.Duration, err = strconv.ParseFloat(row[2], 64); err != nil {
		return m, err
	}
	if m.Hits, err = strconv.Atoi(row[3]); err != nil {
		return m, err
	}
	if m.SumToT, err = strconv.ParseUint(row[4], 10, 64); err != nil {
		return m, err
	}
	m.Offset, err = strconv.ParseInt(row[5], 10, 64)
	return m, err
}
