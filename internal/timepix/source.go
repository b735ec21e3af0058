package timepix

import "io"

// HitSource yields hits in stream order. Next returns io.EOF once the
// stream is exhausted; any other error aborts the consumer.
type HitSource interface {
	Next() (Hit, error)
}

// TriggerSource yields triggers in stream order, io.EOF at the end.
type TriggerSource interface {
	Next() (Trigger, error)
}

// SliceHitSource serves hits from memory.
type SliceHitSource struct {
	hits []Hit
	pos  int
}

// NewSliceHitSource returns a HitSource over hits. The slice is not copied.
func NewSliceHitSource(hits []Hit) *SliceHitSource {
	return &SliceHitSource{hits: hits}
}

// Next implements HitSource.
func (s *SliceHitSource) Next() (Hit, error) {
	if s.pos >= len(s.hits) {
		return Hit{}, io.EOF
	}
	h := s.hits[s.pos]
	s.pos++
	return h, nil
}

// SliceTriggerSource serves triggers from memory.
type SliceTriggerSource struct {
	triggers []Trigger
	pos      int
}

// NewSliceTriggerSource returns a TriggerSource over triggers.
func NewSliceTriggerSource(triggers []Trigger) *SliceTriggerSource {
	return &SliceTriggerSource{triggers: triggers}
}

// Next implements TriggerSource.
func (s *SliceTriggerSource) Next() (Trigger, error) {
	if s.pos >= len(s.triggers) {
		return Trigger{}, io.EOF
	}
	t := s.triggers[s.pos]
	s.pos++
	return t, nil
}

// LimitTriggers returns a TriggerSource that stops after max triggers.
// max == 0 means no limit.
func LimitTriggers(src TriggerSource, max int) TriggerSource {
	if max <= 0 {
		return src
	}
	return &limitedTriggers{src: src, left: max}
}

type limitedTriggers struct {
	src  TriggerSource
	left int
}

func (l *limitedTriggers) Next() (Trigger, error) {
	if l.left == 0 {
		return Trigger{}, io.EOF
	}
	t, err := l.src.Next()
	if err != nil {
		return t, err
	}
	l.left--
	return t, nil
}

// ReadAllHits drains a HitSource into memory. Intended for tests and small
// inputs only; engines consume sources directly.
func ReadAllHits(src HitSource) ([]Hit, error) {
	var out []Hit
	for {
		h, err := src.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, h)
	}
}

// ReadAllTriggers drains a TriggerSource into memory.
func ReadAllTriggers(src TriggerSource) ([]Trigger, error) {
	var out []Trigger
	for {
		t, err := src.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
}
