package cluster

import (
	"sort"

	"github.com/banshee-data/timepix.report/internal/timepix"
)

// EmitFunc receives each finished cluster. Returning an error aborts the
// pass; the engine returns that error from Push or Flush.
type EmitFunc func(timepix.Cluster) error

// compactThreshold is the number of consumed queue entries tolerated
// before the active queue is shifted down.
const compactThreshold = 4096

// Engine clusters one time-ordered hit stream. Hits are pushed one at a
// time; a cluster is emitted as soon as every member has left the active
// window, because no later hit can reach it. Memory therefore follows the
// active window and the clusters still open, not the length of the run.
//
// An Engine is single-use and not safe for concurrent use.
type Engine struct {
	params Params
	emit   EmitFunc

	// Arena, indexed by slot.
	hits []timepix.Hit
	ids  []timepix.HitID
	sets disjointSet

	grid *pixelGrid

	// Time-ordered queue of active slots; queue[head:] is live.
	queue []int32
	head  int

	pushed  uint64
	lastToA uint64
	emitted uint64
	scratch []int32
	err     error
	stats   Stats
}

// Stats summarises one engine pass.
type Stats struct {
	HitsProcessed   uint64
	ClustersEmitted uint64
	PeakActive      int // Largest active window seen
	PeakArena       int // Largest number of arena slots allocated
}

// NewEngine validates params and returns a fresh engine. emit may be nil,
// in which case clusters are discarded (useful for counting via Stats).
func NewEngine(params Params, emit EmitFunc) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if emit == nil {
		emit = func(timepix.Cluster) error { return nil }
	}
	return &Engine{
		params: params,
		emit:   emit,
		grid:   newPixelGrid(params.SpatialRadius),
	}, nil
}

// Params returns the engine configuration.
func (e *Engine) Params() Params { return e.params }

// Stats returns the counters accumulated so far.
func (e *Engine) Stats() Stats { return e.stats }

// Push adds the next hit of the stream. It returns *timepix.OrderingError
// if ToA decreases; the engine is unusable afterwards and every later call
// returns the same error.
func (e *Engine) Push(h timepix.Hit) error {
	if e.err != nil {
		return e.err
	}
	if e.pushed > 0 && h.ToA < e.lastToA {
		e.err = &timepix.OrderingError{
			Stream:   timepix.StreamHits,
			Index:    e.pushed,
			Field:    "toa",
			Previous: e.lastToA,
			Current:  h.ToA,
		}
		return e.err
	}

	if err := e.evictBefore(h.ToA); err != nil {
		e.err = err
		return err
	}

	slot := e.sets.add()
	e.store(slot, h, timepix.HitID(e.pushed))

	// Everything still in the grid is within TimeWindow of h.
	r := e.params.SpatialRadius
	conn := e.params.Connectivity
	e.grid.forEachNear(h.X, h.Y, func(other int32) {
		o := e.hits[other]
		if conn.Within(int(h.X)-int(o.X), int(h.Y)-int(o.Y), r) {
			e.sets.union(slot, other)
		}
	})

	e.grid.insert(h.X, h.Y, slot)
	e.queue = append(e.queue, slot)

	e.pushed++
	e.lastToA = h.ToA
	e.stats.HitsProcessed = e.pushed
	if active := len(e.queue) - e.head; active > e.stats.PeakActive {
		e.stats.PeakActive = active
	}
	if c := e.sets.capacity(); c > e.stats.PeakArena {
		e.stats.PeakArena = c
	}
	return nil
}

// Flush evicts every remaining hit and emits the clusters still open.
// The engine may keep receiving hits afterwards, provided ToA does not
// decrease.
func (e *Engine) Flush() error {
	if e.err != nil {
		return e.err
	}
	for e.head < len(e.queue) {
		if err := e.evictHead(); err != nil {
			e.err = err
			return err
		}
	}
	e.queue = e.queue[:0]
	e.head = 0
	return nil
}

func (e *Engine) store(slot int32, h timepix.Hit, id timepix.HitID) {
	if int(slot) == len(e.hits) {
		e.hits = append(e.hits, h)
		e.ids = append(e.ids, id)
		return
	}
	e.hits[slot] = h
	e.ids[slot] = id
}

// evictBefore retires active hits more than TimeWindow behind toa.
func (e *Engine) evictBefore(toa uint64) error {
	for e.head < len(e.queue) {
		oldest := e.hits[e.queue[e.head]].ToA
		if toa-oldest <= e.params.TimeWindow {
			break
		}
		if err := e.evictHead(); err != nil {
			return err
		}
	}
	if e.head > compactThreshold && e.head*2 > len(e.queue) {
		n := copy(e.queue, e.queue[e.head:])
		e.queue = e.queue[:n]
		e.head = 0
	}
	return nil
}

func (e *Engine) evictHead() error {
	slot := e.queue[e.head]
	e.head++

	h := e.hits[slot]
	e.grid.remove(h.X, h.Y, slot)

	root, done := e.sets.retire(slot)
	if !done {
		return nil
	}
	return e.emitSet(root)
}

// emitSet turns a finished set into a Cluster and frees its slots.
func (e *Engine) emitSet(root int32) error {
	e.scratch = e.sets.members(root, e.scratch[:0])
	slots := e.scratch
	sort.Slice(slots, func(i, j int) bool { return e.ids[slots[i]] < e.ids[slots[j]] })

	ids := make([]timepix.HitID, len(slots))
	hits := make([]timepix.Hit, len(slots))
	for i, s := range slots {
		ids[i] = e.ids[s]
		hits[i] = e.hits[s]
	}
	e.sets.release(slots)

	e.emitted++
	e.stats.ClustersEmitted = e.emitted
	return e.emit(timepix.NewCluster(e.emitted, ids, hits))
}
