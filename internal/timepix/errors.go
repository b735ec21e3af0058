package timepix

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching. The typed errors below wrap them.
var (
	ErrConfig   = errors.New("invalid configuration")
	ErrOrdering = errors.New("stream ordering violated")
)

// ConfigError reports a parameter outside its valid range. It is returned
// at construction, before any input is consumed.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// Stream names used in OrderingError.
const (
	StreamHits     = "hits"
	StreamTriggers = "triggers"
)

// OrderingError reports a monotonicity violation on an input stream. The
// pass that detected it is aborted.
type OrderingError struct {
	Stream   string // StreamHits or StreamTriggers
	Index    uint64 // Position of the offending record in its stream
	Field    string // "toa", "id" or "timestamp"
	Previous uint64
	Current  uint64
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("%s stream out of order at record %d: %s %d follows %d",
		e.Stream, e.Index, e.Field, e.Current, e.Previous)
}

func (e *OrderingError) Unwrap() error { return ErrOrdering }
