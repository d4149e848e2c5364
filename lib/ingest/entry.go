// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"sort"
	"sync"
)

// Kind classifies what an entry renders as.
type Kind string

const (
	KindScalar Kind = "scalar"
	KindImage  Kind = "image"
)

// Entry is anything the index holds under a tag: either a per-step
// entry (one index row per step) or a whole-series entry (one row
// covering all steps).
type Entry interface {
	Tag() Tag
	Kind() Kind
	// PerStep reports whether the entry occupies a single step.
	PerStep() bool
	// Release cancels pending work and drops back-references so the
	// entry cannot pin a retired source's resources.
	Release()
}

// StepEntry is a single (tag, step) cell backed by one record in a
// log file. It stores only provenance — tracker, offset, sub-index —
// and materializes its blob lazily through a pool future.
type StepEntry struct {
	tag    Tag
	kind   Kind
	step   int64
	loader LoaderID
	pool   *Pool

	mu          sync.Mutex
	materialize func() (BlobResult, error)
	future      *Future
}

// NewStepEntry builds an entry whose blob is produced by materialize
// when first requested. materialize must be safe to call from a pool
// worker goroutine.
func NewStepEntry(tag Tag, kind Kind, step int64, loader LoaderID, pool *Pool, materialize func() (BlobResult, error)) *StepEntry {
	return &StepEntry{
		tag:         tag,
		kind:        kind,
		step:        step,
		loader:      loader,
		pool:        pool,
		materialize: materialize,
	}
}

func (e *StepEntry) Tag() Tag         { return e.tag }
func (e *StepEntry) Kind() Kind       { return e.kind }
func (e *StepEntry) PerStep() bool    { return true }
func (e *StepEntry) Step() int64      { return e.step }
func (e *StepEntry) Loader() LoaderID { return e.loader }

// Data returns a started future for the entry's blob. The same future
// is handed out until it reaches a terminal state; after completion
// or cancellation the next call schedules a fresh decode. The decoded
// record itself is cached in the tracker, so a repeat future is cheap.
func (e *StepEntry) Data() *Future {
	e.mu.Lock()
	if e.materialize == nil {
		// Released entry: a future that is already terminal.
		e.mu.Unlock()
		f := newFuture(e.pool, nil)
		f.Cancel()
		return f
	}
	if e.future == nil || e.future.Terminal() {
		e.future = newFuture(e.pool, e.materialize)
	}
	f := e.future
	e.mu.Unlock()
	f.Start()
	return f
}

// Release cancels any pending future and severs the materializer so
// the entry no longer references its tracker.
func (e *StepEntry) Release() {
	e.mu.Lock()
	future := e.future
	e.future = nil
	e.materialize = nil
	e.mu.Unlock()
	if future != nil {
		future.Cancel()
	}
}

// SeriesEntry is a scalar series under one tag, partitioned by
// top-level source so sibling log files inside one directory merge
// into a single line per source. It keeps its own lock; readers never
// need the engine mutex.
type SeriesEntry struct {
	tag Tag

	mu       sync.Mutex
	allSteps []int64
	order    []string
	tracks   map[string]*seriesTrack
}

type seriesTrack struct {
	loader LoaderID
	steps  []int64
	values []float64
}

// NewSeriesEntry creates an empty series for tag.
func NewSeriesEntry(tag Tag) *SeriesEntry {
	return &SeriesEntry{tag: tag, tracks: make(map[string]*seriesTrack)}
}

func (e *SeriesEntry) Tag() Tag      { return e.tag }
func (e *SeriesEntry) Kind() Kind    { return KindScalar }
func (e *SeriesEntry) PerStep() bool { return false }
func (e *SeriesEntry) Release()      {}

// Add records one observation. Steps arrive mostly in order; an
// out-of-order step is inserted at its sorted position. Re-observed
// steps append a second value at the same position, matching a run
// that restarted from a checkpoint.
func (e *SeriesEntry) Add(step int64, value float64, loader LoaderID) {
	key := LoaderID{loader.Top()}.Key()
	e.mu.Lock()
	defer e.mu.Unlock()

	track, ok := e.tracks[key]
	if !ok {
		track = &seriesTrack{loader: LoaderID{loader.Top()}}
		e.tracks[key] = track
		e.order = append(e.order, key)
	}

	pos := sort.Search(len(track.steps), func(i int) bool { return track.steps[i] > step })
	track.steps = append(track.steps, 0)
	copy(track.steps[pos+1:], track.steps[pos:])
	track.steps[pos] = step
	track.values = append(track.values, 0)
	copy(track.values[pos+1:], track.values[pos:])
	track.values[pos] = value

	all := sort.Search(len(e.allSteps), func(i int) bool { return e.allSteps[i] >= step })
	if all == len(e.allSteps) || e.allSteps[all] != step {
		e.allSteps = append(e.allSteps, 0)
		copy(e.allSteps[all+1:], e.allSteps[all:])
		e.allSteps[all] = step
	}
}

// Steps returns all distinct steps observed across sources, sorted.
func (e *SeriesEntry) Steps() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int64, len(e.allSteps))
	copy(out, e.allSteps)
	return out
}

// Sources returns the top-level loader IDs contributing to the
// series, in order of first appearance.
func (e *SeriesEntry) Sources() []LoaderID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LoaderID, len(e.order))
	for i, key := range e.order {
		out[i] = e.tracks[key].loader
	}
	return out
}

// Track returns the step and value slices for one top-level source.
// The slices are copies; ok is false if the source never contributed.
func (e *SeriesEntry) Track(loader LoaderID) (steps []int64, values []float64, ok bool) {
	key := LoaderID{loader.Top()}.Key()
	e.mu.Lock()
	defer e.mu.Unlock()
	track, found := e.tracks[key]
	if !found {
		return nil, nil, false
	}
	steps = make([]int64, len(track.steps))
	copy(steps, track.steps)
	values = make([]float64, len(track.values))
	copy(values, track.values)
	return steps, values, true
}

// Len returns the total observation count across all sources.
func (e *SeriesEntry) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, track := range e.tracks {
		n += len(track.steps)
	}
	return n
}
