package hitio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/timepix.report/internal/timepix"
	"github.com/banshee-data/timepix.report/internal/units"
)

// TriggersFile is the trigger list of a run directory.
const TriggersFile = "triggers.csv"

var triggerHeader = []string{"event", "time"}

// TriggerReader decodes triggers.csv. Times are stored in nanoseconds and
// returned as ToA clock ticks. It implements timepix.TriggerSource.
type TriggerReader struct {
	r      *csv.Reader
	closer io.Closer
	line   int
}

// NewTriggerReader reads the header from r and returns a reader positioned
// at the first trigger.
func NewTriggerReader(r io.Reader) (*TriggerReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(triggerHeader)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	tr := &TriggerReader{r: cr, line: 1}
	if c, ok := r.(io.Closer); ok {
		tr.closer = c
	}

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("triggers: missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("triggers: %w", err)
	}
	for i, name := range triggerHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != name {
			return nil, fmt.Errorf("triggers: header %q, want %q", strings.Join(header, ","), strings.Join(triggerHeader, ","))
		}
	}
	return tr, nil
}

// OpenTriggers opens a triggers.csv file.
func OpenTriggers(path string) (*TriggerReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening triggers: %w", err)
	}
	tr, err := NewTriggerReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return tr, nil
}

// Next implements timepix.TriggerSource.
func (tr *TriggerReader) Next() (timepix.Trigger, error) {
	rec, err := tr.r.Read()
	if errors.Is(err, io.EOF) {
		return timepix.Trigger{}, io.EOF
	}
	tr.line++
	if err != nil {
		return timepix.Trigger{}, fmt.Errorf("triggers line %d: %w", tr.line, err)
	}

	id, err := strconv.ParseUint(strings.TrimSpace(rec[0]), 10, 32)
	if err != nil {
		return timepix.Trigger{}, fmt.Errorf("triggers line %d: event: %w", tr.line, err)
	}
	ns, err := strconv.ParseUint(strings.TrimSpace(rec[1]), 10, 64)
	if err != nil {
		return timepix.Trigger{}, fmt.Errorf("triggers line %d: time: %w", tr.line, err)
	}
	return timepix.Trigger{ID: uint32(id), Timestamp: units.TicksFromNanos(ns)}, nil
}

// Close closes the underlying file, if any.
func (tr *TriggerReader) Close() error {
	if tr.closer == nil {
		return nil
	}
	return tr.closer.Close()
}

// WriteTriggers encodes triggers as triggers.csv. Tick timestamps are
// rounded up to whole nanoseconds so they read back as the same tick.
func WriteTriggers(w io.Writer, triggers []timepix.Trigger) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(triggerHeader); err != nil {
		return err
	}
	rec := make([]string, 2)
	for _, t := range triggers {
		rec[0] = strconv.FormatUint(uint64(t.ID), 10)
		rec[1] = strconv.FormatUint(uint64(math.Ceil(units.NanosFromTicks(t.Timestamp))), 10)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
