package trigger

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/timepix.report/internal/timepix"
)

// ctxCheckInterval is how many hits are processed between context checks.
const ctxCheckInterval = 1 << 14

// EmitFunc receives each finished window, in trigger order. Returning an
// error aborts extraction.
type EmitFunc func(timepix.TriggerWindow) error

// Stats summarises one extraction pass.
type Stats struct {
	HitsRead       uint64
	HitsAssigned   uint64 // Assignments, so a hit in two windows counts twice
	HitsOutside    uint64 // Hits in no window
	HitsContested  uint64 // Hits inside more than one window
	HitsDropped    uint64 // Contested hits assigned nowhere (Exclusive)
	TriggersRead   uint64
	WindowsEmitted uint64
	PeakOpen       int // Most windows open at once
}

// Extractor builds trigger windows from a hit stream and a trigger stream.
// It holds only its immutable Params, so one Extractor may serve several
// independent Extract calls.
type Extractor struct {
	params Params
}

// NewExtractor validates params and returns an Extractor.
func NewExtractor(params Params) (*Extractor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{params: params}, nil
}

// Params returns the extractor configuration.
func (x *Extractor) Params() Params { return x.params }

// Extract sweeps both streams once. Exactly one window is emitted per
// trigger, in trigger order, including empty windows. Only the windows
// currently open are held in memory.
func (x *Extractor) Extract(ctx context.Context, hits timepix.HitSource, triggers timepix.TriggerSource, emit EmitFunc) (Stats, error) {
	if emit == nil {
		emit = func(timepix.TriggerWindow) error { return nil }
	}
	s := &sweep{params: x.params, triggers: triggers, emit: emit}

	for n := 0; ; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return s.stats, err
			}
		}

		h, err := hits.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.stats, fmt.Errorf("reading hit %d: %w", n, err)
		}
		if err := s.push(h); err != nil {
			return s.stats, err
		}
	}

	if err := s.finish(); err != nil {
		return s.stats, err
	}
	return s.stats, nil
}

// ExtractAll is the in-memory form of Extract.
func ExtractAll(params Params, hits []timepix.Hit, triggers []timepix.Trigger) ([]timepix.TriggerWindow, error) {
	x, err := NewExtractor(params)
	if err != nil {
		return nil, err
	}
	windows := make([]timepix.TriggerWindow, 0, len(triggers))
	_, err = x.Extract(context.Background(),
		timepix.NewSliceHitSource(hits),
		timepix.NewSliceTriggerSource(triggers),
		func(w timepix.TriggerWindow) error {
			windows = append(windows, w)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return windows, nil
}

// sweep is the state of one Extract call.
//
// Invariant: after advance(toa), open[head:] holds exactly the windows with
// Start <= toa <= End. Trigger timestamps strictly increase, so both
// window starts and ends are non-decreasing in trigger order; windows are
// therefore opened at the back and closed from the front.
type sweep struct {
	params   Params
	triggers timepix.TriggerSource
	emit     EmitFunc

	open []*timepix.TriggerWindow
	head int

	next        timepix.Trigger // Read but not yet opened
	hasNext     bool
	triggersEOF bool
	lastTrigger timepix.Trigger

	hitIndex uint64
	lastToA  uint64
	targets  []int

	stats Stats
}

func (s *sweep) push(h timepix.Hit) error {
	if s.hitIndex > 0 && h.ToA < s.lastToA {
		return &timepix.OrderingError{
			Stream:   timepix.StreamHits,
			Index:    s.hitIndex,
			Field:    "toa",
			Previous: s.lastToA,
			Current:  h.ToA,
		}
	}
	id := timepix.HitID(s.hitIndex)
	s.hitIndex++
	s.lastToA = h.ToA
	s.stats.HitsRead++

	if err := s.advance(h.ToA); err != nil {
		return err
	}

	open := s.open[s.head:]
	switch len(open) {
	case 0:
		s.stats.HitsOutside++
		return nil
	case 1:
	default:
		s.stats.HitsContested++
		for _, w := range open {
			w.Contested++
		}
	}

	s.targets = s.params.Policy.assign(open, h.ToA, s.targets)
	if len(s.targets) == 0 {
		s.stats.HitsDropped++
	}
	for _, i := range s.targets {
		open[i].HitIDs = append(open[i].HitIDs, id)
		open[i].Hits = append(open[i].Hits, h)
		s.stats.HitsAssigned++
	}
	return nil
}

// advance closes windows ending before toa and opens triggers whose window
// has started by toa.
func (s *sweep) advance(toa uint64) error {
	for {
		if err := s.closeBefore(toa); err != nil {
			return err
		}
		t, ok, err := s.peekTrigger()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		start, end := timepix.WindowBounds(t.Timestamp, s.params.PreWindow, s.params.PostWindow)
		if start > toa {
			return nil
		}
		s.hasNext = false
		s.open = append(s.open, &timepix.TriggerWindow{Trigger: t, Start: start, End: end})
		if n := len(s.open) - s.head; n > s.stats.PeakOpen {
			s.stats.PeakOpen = n
		}
	}
}

func (s *sweep) closeBefore(toa uint64) error {
	for s.head < len(s.open) && s.open[s.head].End < toa {
		if err := s.closeHead(); err != nil {
			return err
		}
	}
	switch {
	case s.head == len(s.open):
		s.open = s.open[:0]
		s.head = 0
	case s.head > 1024 && s.head*2 > len(s.open):
		n := copy(s.open, s.open[s.head:])
		s.open = s.open[:n]
		s.head = 0
	}
	return nil
}

func (s *sweep) closeHead() error {
	w := s.open[s.head]
	s.open[s.head] = nil
	s.head++
	s.stats.WindowsEmitted++
	return s.emit(*w)
}

// peekTrigger returns the next unopened trigger, reading and validating it
// if needed.
func (s *sweep) peekTrigger() (timepix.Trigger, bool, error) {
	if s.hasNext {
		return s.next, true, nil
	}
	if s.triggersEOF {
		return timepix.Trigger{}, false, nil
	}

	t, err := s.triggers.Next()
	if errors.Is(err, io.EOF) {
		s.triggersEOF = true
		return timepix.Trigger{}, false, nil
	}
	if err != nil {
		return timepix.Trigger{}, false, fmt.Errorf("reading trigger %d: %w", s.stats.TriggersRead, err)
	}

	if s.stats.TriggersRead > 0 {
		prev := s.lastTrigger
		if t.ID <= prev.ID {
			return t, false, &timepix.OrderingError{
				Stream:   timepix.StreamTriggers,
				Index:    s.stats.TriggersRead,
				Field:    "id",
				Previous: uint64(prev.ID),
				Current:  uint64(t.ID),
			}
		}
		if t.Timestamp <= prev.Timestamp {
			return t, false, &timepix.OrderingError{
				Stream:   timepix.StreamTriggers,
				Index:    s.stats.TriggersRead,
				Field:    "timestamp",
				Previous: prev.Timestamp,
				Current:  t.Timestamp,
			}
		}
	}
	s.stats.TriggersRead++
	s.lastTrigger = t
	s.next, s.hasNext = t, true
	return t, true, nil
}

// finish emits the windows still open, then an empty window for every
// trigger not yet read.
func (s *sweep) finish() error {
	for s.head < len(s.open) {
		if err := s.closeHead(); err != nil {
			return err
		}
	}
	s.open, s.head = nil, 0

	for {
		t, ok, err := s.peekTrigger()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.hasNext = false
		start, end := timepix.WindowBounds(t.Timestamp, s.params.PreWindow, s.params.PostWindow)
		s.stats.WindowsEmitted++
		if err := s.emit(timepix.TriggerWindow{Trigger: t, Start: start, End: end}); err != nil {
			return err
		}
	}
}
