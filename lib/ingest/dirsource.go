// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DirLoader watches a directory of event logs. New files appearing
// between polls become children with IDs derived from the directory's
// own ID; children are polled oldest-first by mtime so steps from
// rotated logs arrive roughly in order. The directory retires when it
// is deleted or when every child has retired.
//
// The child list is read by consumer goroutines through the byte and
// sort accessors while the poll goroutine mutates it, so it sits
// behind its own mutex. byPath is poll-goroutine-only.
type DirLoader struct {
	path string
	id   LoaderID
	deps LoaderDeps

	mu       sync.Mutex
	children []Loader

	byPath    map[string]LoaderID
	nextChild int
}

// NewDirLoader scans path for event logs and builds initial children.
func NewDirLoader(path string, id LoaderID, deps LoaderDeps) (Loader, error) {
	l := &DirLoader{
		path:   path,
		id:     id,
		deps:   deps,
		byPath: make(map[string]LoaderID),
	}
	l.discover()
	return l, nil
}

func (l *DirLoader) ID() LoaderID { return l.id }

func (l *DirLoader) snapshot() []Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Loader, len(l.children))
	copy(out, l.children)
	return out
}

func (l *DirLoader) BytesLoaded() int64 {
	var n int64
	for _, child := range l.snapshot() {
		n += child.BytesLoaded()
	}
	return n
}

func (l *DirLoader) BytesTotal() int64 {
	var n int64
	for _, child := range l.snapshot() {
		n += child.BytesTotal()
	}
	return n
}

// SortKey is the newest child's key, so a directory sorts with its
// most recent activity.
func (l *DirLoader) SortKey() time.Time {
	var newest time.Time
	for _, child := range l.snapshot() {
		if key := child.SortKey(); key.After(newest) {
			newest = key
		}
	}
	return newest
}

func (l *DirLoader) Poll(sink Sink) bool {
	if info, err := os.Stat(l.path); err != nil || !info.IsDir() {
		l.deps.Logger.Info("source directory removed, retiring",
			"path", l.path, "loader", l.id)
		l.mu.Lock()
		children := l.children
		l.children = nil
		l.mu.Unlock()
		for _, child := range children {
			sink.RemoveSource(child.ID())
		}
		return false
	}

	l.discover()
	l.mu.Lock()
	sort.SliceStable(l.children, func(i, j int) bool {
		return l.children[i].SortKey().Before(l.children[j].SortKey())
	})
	children := make([]Loader, len(l.children))
	copy(children, l.children)
	l.mu.Unlock()

	// Child polls run off the lock; the list is republished once the
	// pass is done.
	kept := make([]Loader, 0, len(children))
	for i, child := range children {
		if child.Poll(sink) {
			kept = append(kept, child)
			continue
		}
		if sink.Interrupted() {
			// Cycle aborted mid-removal: keep everything from here on
			// and let the next cycle resolve it.
			kept = append(kept, children[i:]...)
			break
		}
		sink.RemoveSource(child.ID())
		l.forgetPath(child.ID())
	}
	l.mu.Lock()
	l.children = kept
	l.mu.Unlock()

	if len(kept) == 0 {
		l.deps.Logger.Info("all logs in directory retired, retiring directory",
			"path", l.path, "loader", l.id)
		return false
	}
	return true
}

// forgetPath drops the retired child's path so a file recreated there
// later is rediscovered under a freshly minted ID.
func (l *DirLoader) forgetPath(id LoaderID) {
	for path, childID := range l.byPath {
		if childID.Equal(id) {
			delete(l.byPath, path)
			return
		}
	}
}

// discover adds loaders for event logs not yet tracked.
func (l *DirLoader) discover() {
	entries, err := os.ReadDir(l.path)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), eventLogMarker) {
			continue
		}
		path := filepath.Join(l.path, entry.Name())
		if _, seen := l.byPath[path]; seen {
			continue
		}
		id := l.id.Child(l.nextChild)
		l.nextChild++
		l.byPath[path] = id
		child := NewEventLogLoader(path, id, l.deps)
		l.mu.Lock()
		l.children = append(l.children, child)
		l.mu.Unlock()
		l.deps.Logger.Info("discovered event log", "path", path, "loader", id)
	}
}
