// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/runlog/lib/clock"
)

// progressStride throttles progress notifications while the initial
// backlog is being consumed: one per this many records.
const progressStride = 10

// Config tunes an Engine. Zero values take defaults.
type Config struct {
	// PollInterval is the idle gap between poll cycles.
	PollInterval time.Duration
	// Workers bounds concurrent materializations.
	Workers int
	// SubscriberBuffer is the minimum notification buffer per
	// subscriber.
	SubscriberBuffer int
	// InteractivePreload emits step notifications during the initial
	// backlog load instead of deferring consumers to a single resync
	// when it finishes. Costs churn on large backlogs.
	InteractivePreload bool
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 256
	}
}

// EngineState is the engine lifecycle position.
type EngineState int32

const (
	StateIdle EngineState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	RecordsApplied uint64
	Cycles         uint64
	SourcesRemoved uint64
	Subscribers    int
}

// Engine polls a set of source loaders on a background goroutine and
// maintains the merged tag/step index. Readers use the snapshot
// accessors (Steps, Tags, Entries, Series) from any goroutine;
// subscribers get change notifications over buffered channels.
type Engine struct {
	registry  *Registry
	clk       clock.Clock
	logger    *slog.Logger
	cfg       Config
	pool      *Pool
	tagParser *TagParser

	mu           sync.Mutex
	idx          *index
	loaders      []Loader
	paths        []string
	pendingAdds  []string
	pendingSteps []int
	nextTop      int
	initialLoad  bool
	records      uint64

	state         atomic.Int32
	stopRequested atomic.Bool
	reloadFlag    atomic.Bool
	wake          chan struct{}
	doneCh        chan struct{}

	subMu sync.Mutex
	subs  map[*Subscription]struct{}

	recordsApplied atomic.Uint64
	cycles         atomic.Uint64
	removed        atomic.Uint64
}

// NewEngine builds an engine around a loader registry. The clock is
// injected so tests drive polling deterministically.
func NewEngine(registry *Registry, clk clock.Clock, logger *slog.Logger, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		registry:  registry,
		clk:       clk,
		logger:    logger,
		cfg:       cfg,
		pool:      NewPool(cfg.Workers, logger),
		tagParser: NewTagParser(),
		idx:       newIndex(),
		wake:      make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		subs:      make(map[*Subscription]struct{}),
	}
}

// Start resolves the given source paths and launches the poll
// goroutine. A path no loader recognizes is logged and skipped; if
// nothing resolves, the loop starts, finds zero loaders, and stops
// itself.
func (e *Engine) Start(paths ...string) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("engine already started (state %s)", e.State())
	}
	deps := LoaderDeps{Logger: e.logger, Pool: e.pool, Tags: e.tagParser}
	var loaders []Loader
	for _, path := range paths {
		loader, err := e.registry.Resolve(path, LoaderID{e.nextTop}, deps)
		if err != nil {
			e.logger.Warn("source not recognized, skipping", "path", path, "error", err)
			continue
		}
		e.nextTop++
		loaders = append(loaders, loader)
	}
	e.mu.Lock()
	e.loaders = loaders
	e.paths = slices.Clone(paths)
	e.initialLoad = true
	e.mu.Unlock()
	go e.run()
	return nil
}

// AddSource queues another source path. The poll goroutine picks it
// up at the start of its next cycle and re-enters initial-load mode
// until the new source's backlog is consumed. An unrecognized path is
// logged and dropped.
func (e *Engine) AddSource(path string) {
	e.mu.Lock()
	e.pendingAdds = append(e.pendingAdds, path)
	e.mu.Unlock()
	e.wakeUp()
}

// Reload discards the entire index and re-resolves every known source
// path from scratch. Loader IDs are not reused across the reload.
func (e *Engine) Reload() {
	e.reloadFlag.Store(true)
	e.wakeUp()
}

// Stop asks the poll goroutine to exit, cancels queued
// materializations, waits for in-flight ones, and returns once
// everything has wound down. Safe to call more than once.
func (e *Engine) Stop() {
	if e.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		e.pool.Stop()
		close(e.doneCh)
		e.notifyAll(Notification{Kind: NoteStopped})
		return
	}
	e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	e.stopRequested.Store(true)
	e.wakeUp()
	<-e.doneCh
}

// Done is closed once the poll goroutine has exited.
func (e *Engine) Done() <-chan struct{} { return e.doneCh }

// State returns the engine lifecycle position.
func (e *Engine) State() EngineState { return EngineState(e.state.Load()) }

func (e *Engine) run() {
	defer func() {
		r := recover()
		e.pool.Stop()
		e.state.Store(int32(StateStopped))
		close(e.doneCh)
		e.notifyAll(Notification{Kind: NoteStopped})
		if r != nil {
			e.logger.Error("poll goroutine panicked", "panic", r)
			panic(r)
		}
	}()

	for !e.stopRequested.Load() {
		if e.reloadFlag.Swap(false) {
			e.doReload()
		}
		e.drainAdds()
		if !e.pollCycle() {
			return
		}
		select {
		case <-e.clk.After(e.cfg.PollInterval):
		case <-e.wake:
		}
	}
}

// interrupted reports whether the current cycle should unwind early:
// a stop or reload is pending and every record already applied stays,
// while the rest waits for the next cycle.
func (e *Engine) interrupted() bool {
	return e.stopRequested.Load() || e.reloadFlag.Load()
}

// pollCycle polls every loader once, oldest source first. It returns
// false when no loaders remain, which stops the engine.
func (e *Engine) pollCycle() bool {
	e.mu.Lock()
	loaders := slices.Clone(e.loaders)
	e.mu.Unlock()
	slices.SortStableFunc(loaders, func(a, b Loader) int {
		return a.SortKey().Compare(b.SortKey())
	})

	sink := &engineSink{e: e}
	var kept []Loader
	var retired []LoaderID
	for i, loader := range loaders {
		ok := loader.Poll(sink)
		if e.interrupted() {
			// Abort without retiring anything this cycle; a dead
			// loader reports false again next time.
			kept = append(kept, loaders[i:]...)
			e.setLoaders(kept)
			return true
		}
		if ok {
			kept = append(kept, loader)
		} else {
			retired = append(retired, loader.ID())
		}
	}
	e.setLoaders(kept)

	for _, id := range retired {
		e.removed.Add(1)
		e.notifyAll(Notification{Kind: NoteSourceRemoved, Loader: id})
	}

	if len(kept) == 0 {
		e.logger.Info("all sources retired, stopping engine")
		return false
	}

	e.mu.Lock()
	finishedInitial := e.initialLoad
	e.initialLoad = false
	e.mu.Unlock()
	if finishedInitial {
		e.notifyAll(Notification{Kind: NoteProgress, Ratio: 1, Records: e.recordsApplied.Load()})
		e.notifyAll(Notification{Kind: NoteInitialLoadDone})
		e.logger.Info("initial load complete", "records", e.recordsApplied.Load())
	}
	e.cycles.Add(1)
	return true
}

func (e *Engine) setLoaders(loaders []Loader) {
	e.mu.Lock()
	e.loaders = loaders
	e.mu.Unlock()
}

func (e *Engine) doReload() {
	e.mu.Lock()
	e.idx.releaseAll()
	e.idx = newIndex()
	e.loaders = nil
	e.initialLoad = true
	e.records = 0
	e.pendingSteps = nil
	paths := slices.Clone(e.paths)
	e.mu.Unlock()
	e.notifyAll(Notification{Kind: NoteCleared})
	e.logger.Info("reloading all sources", "paths", len(paths))

	deps := LoaderDeps{Logger: e.logger, Pool: e.pool, Tags: e.tagParser}
	var loaders []Loader
	for _, path := range paths {
		loader, err := e.registry.Resolve(path, LoaderID{e.nextTop}, deps)
		if err != nil {
			e.logger.Warn("source dropped on reload", "path", path, "error", err)
			continue
		}
		e.nextTop++
		loaders = append(loaders, loader)
	}
	e.setLoaders(loaders)
}

func (e *Engine) drainAdds() {
	e.mu.Lock()
	adds := e.pendingAdds
	e.pendingAdds = nil
	e.mu.Unlock()
	if len(adds) == 0 {
		return
	}

	deps := LoaderDeps{Logger: e.logger, Pool: e.pool, Tags: e.tagParser}
	var loaders []Loader
	for _, path := range adds {
		loader, err := e.registry.Resolve(path, LoaderID{e.nextTop}, deps)
		if err != nil {
			e.logger.Warn("added source not recognized", "path", path, "error", err)
			continue
		}
		e.nextTop++
		loaders = append(loaders, loader)
		e.logger.Info("source added", "path", path, "loader", loader.ID())
	}
	if len(loaders) == 0 {
		return
	}
	e.mu.Lock()
	e.loaders = append(e.loaders, loaders...)
	e.paths = append(e.paths, adds...)
	// New backlog to consume: progress reporting drops back into
	// initial-load mode until the next full cycle completes.
	e.initialLoad = true
	e.mu.Unlock()
}

// engineSink is the Sink handed to loaders during a cycle.
type engineSink struct {
	e *Engine
}

func (s *engineSink) Interrupted() bool { return s.e.interrupted() }

func (s *engineSink) AddRecord(entries []*StepEntry, points []ScalarPoint) {
	e := s.e
	var notes []Notification

	e.mu.Lock()
	for _, entry := range entries {
		newTag, stepPos := e.idx.insert(entry)
		if newTag {
			notes = append(notes, Notification{Kind: NoteTagAdded, Tag: entry.Tag(), EntryKind: entry.Kind()})
		}
		if stepPos >= 0 && (!e.initialLoad || e.cfg.InteractivePreload) {
			// Step positions are delivered from FinishRecord, after the
			// record's progress note; discoveries stream as encountered.
			e.pendingSteps = append(e.pendingSteps, stepPos)
		}
	}
	for _, p := range points {
		series, created := e.idx.ensureSeries(p.Tag)
		if created {
			notes = append(notes, Notification{Kind: NoteTagAdded, Tag: p.Tag, EntryKind: KindScalar})
			notes = append(notes, Notification{Kind: NoteSeriesAdded, Tag: p.Tag, EntryKind: KindScalar})
		}
		series.Add(p.Step, p.Value, p.Loader)
	}
	e.mu.Unlock()

	for _, n := range notes {
		e.notifyAll(n)
	}
}

func (s *engineSink) RemoveSource(id LoaderID) {
	s.e.removed.Add(1)
	s.e.notifyAll(Notification{Kind: NoteSourceRemoved, Loader: id})
}

func (s *engineSink) FinishRecord() {
	e := s.e
	e.recordsApplied.Add(1)

	e.mu.Lock()
	e.records++
	records := e.records
	initial := e.initialLoad
	steps := e.pendingSteps
	e.pendingSteps = nil
	var loaded, total int64
	if initial && records%progressStride == 0 {
		for _, l := range e.loaders {
			loaded += l.BytesLoaded()
			total += l.BytesTotal()
		}
	}
	e.mu.Unlock()

	switch {
	case initial && records%progressStride == 0:
		ratio := 1.0
		if total > 0 {
			ratio = float64(loaded) / float64(total)
		}
		e.notifyAll(Notification{Kind: NoteProgress, Ratio: ratio, Records: records})
	case !initial:
		e.notifyAll(Notification{Kind: NoteProgress, Ratio: 1, Records: records})
	}
	for _, pos := range steps {
		e.notifyAll(Notification{Kind: NoteStepInserted, StepPosition: pos})
	}
}

// Subscribe registers a notification listener. Tags already in the
// index are replayed into the fresh buffer so the subscriber starts
// complete; a tag raced in around registration may arrive twice, so
// duplicate NoteTagAdded must be tolerated.
func (e *Engine) Subscribe() *Subscription {
	s := &Subscription{engine: e}
	e.mu.Lock()
	tags := slices.Clone(e.idx.tags)
	size := e.cfg.SubscriberBuffer
	if need := 2*len(tags) + 16; need > size {
		size = need
	}
	s.ch = make(chan Notification, size)
	for _, info := range tags {
		s.ch <- Notification{Kind: NoteTagAdded, Tag: info.Tag, EntryKind: info.Kind}
		if info.Kind == KindScalar {
			s.ch <- Notification{Kind: NoteSeriesAdded, Tag: info.Tag, EntryKind: KindScalar}
		}
	}
	e.subMu.Lock()
	e.subs[s] = struct{}{}
	e.subMu.Unlock()
	e.mu.Unlock()
	return s
}

func (e *Engine) unsubscribe(s *Subscription) {
	e.subMu.Lock()
	delete(e.subs, s)
	e.subMu.Unlock()
}

func (e *Engine) notifyAll(n Notification) {
	e.subMu.Lock()
	for s := range e.subs {
		s.deliver(n)
	}
	e.subMu.Unlock()
}

func (e *Engine) wakeUp() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Steps returns the sorted distinct steps across all per-step
// entries.
func (e *Engine) Steps() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.idx.steps)
}

// Tags returns every discovered tag in order of first appearance.
func (e *Engine) Tags() []TagInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.idx.tags)
}

// Entries returns the per-step entries under tag, sorted by step.
func (e *Engine) Entries(tag Tag) []*StepEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.idx.entries[tag.Key()])
}

// EntryAt returns the entry for (step, tag), if any.
func (e *Engine) EntryAt(step int64, tag Tag) (*StepEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.idx.byStep[step][tag.Key()]
	return entry, ok
}

// Series returns the scalar series under tag, if any. The entry is
// live and self-locking; holding it does not block the engine.
func (e *Engine) Series(tag Tag) (*SeriesEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.idx.series[tag.Key()]
	return entry, ok
}

// InitialLoadDone reports whether the first full pass over every
// source's backlog has completed.
func (e *Engine) InitialLoadDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.initialLoad
}

// Progress returns bytes loaded and bytes total across all live
// sources.
func (e *Engine) Progress() (loaded, total int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.loaders {
		loaded += l.BytesLoaded()
		total += l.BytesTotal()
	}
	return loaded, total
}

// Stats returns a counter snapshot.
func (e *Engine) Stats() Stats {
	e.subMu.Lock()
	subs := len(e.subs)
	e.subMu.Unlock()
	return Stats{
		RecordsApplied: e.recordsApplied.Load(),
		Cycles:         e.cycles.Load(),
		SourcesRemoved: e.removed.Load(),
		Subscribers:    subs,
	}
}
