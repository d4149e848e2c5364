// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"sync"
	"sync/atomic"
)

// NotificationKind enumerates engine events.
type NotificationKind int

const (
	// NoteCleared: the index was discarded (reload). Subscribers drop
	// everything and wait for rediscovery.
	NoteCleared NotificationKind = iota
	// NoteTagAdded: a tag appeared for the first time. Tag and
	// EntryKind are set.
	NoteTagAdded
	// NoteSeriesAdded: a scalar series appeared for the first time.
	// Follows the tag's NoteTagAdded. Tag is set.
	NoteSeriesAdded
	// NoteStepInserted: a new distinct step entered the global step
	// list at StepPosition.
	NoteStepInserted
	// NoteProgress: ingest progress. Ratio is bytes loaded over bytes
	// total, 1.0 once the initial load is done.
	NoteProgress
	// NoteInitialLoadDone: every source's backlog has been consumed
	// once; the engine is now tailing.
	NoteInitialLoadDone
	// NoteSourceRemoved: the loader identified by Loader retired.
	NoteSourceRemoved
	// NoteStopped: the poll goroutine exited; no further
	// notifications follow.
	NoteStopped
)

// Notification is one engine event. Which fields are meaningful
// depends on Kind.
type Notification struct {
	Kind         NotificationKind
	Tag          Tag
	EntryKind    Kind
	StepPosition int
	Ratio        float64
	Records      uint64
	Loader       LoaderID
}

// Subscription is one listener's buffered notification stream. The
// engine never blocks on a subscriber: when the buffer is full the
// notification is dropped and counted, and the subscriber resyncs
// from the engine's snapshot accessors.
type Subscription struct {
	ch      chan Notification
	dropped atomic.Uint64

	closeOnce sync.Once
	engine    *Engine
}

// C is the notification stream. It is never closed by the engine;
// NoteStopped marks the end.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Dropped returns how many notifications overflowed the buffer.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription from the engine.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.engine.unsubscribe(s)
	})
}

func (s *Subscription) deliver(n Notification) {
	select {
	case s.ch <- n:
	default:
		s.dropped.Add(1)
	}
}
