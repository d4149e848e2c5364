// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ScalarPoint is one scalar observation extracted from a record.
type ScalarPoint struct {
	Tag    Tag
	Step   int64
	Value  float64
	Loader LoaderID
}

// Sink is the loader's view of the engine during a poll cycle. All
// mutation goes through AddRecord, which applies one record's worth
// of index changes atomically: a reader sees either none or all of a
// record's entries.
type Sink interface {
	// Interrupted reports whether the engine wants the cycle to end
	// early. Loaders check it between records and unwind without
	// committing the record in progress.
	Interrupted() bool
	// AddRecord applies one record's entries and scalar points to the
	// index under a single lock acquisition.
	AddRecord(entries []*StepEntry, points []ScalarPoint)
	// RemoveSource signals that a child source has gone away. Called
	// by composite loaders for retired children; top-level removal is
	// signalled by the engine when Poll returns false.
	RemoveSource(id LoaderID)
	// FinishRecord marks one record fully applied, driving progress
	// accounting and step notifications.
	FinishRecord()
}

// Loader ingests one source incrementally. Poll reads whatever the
// source has appended since the last cycle and returns false exactly
// when the source is permanently unusable: the file was deleted or
// truncated, or a composite source has no children left. A false
// return retires the loader; transient errors return true and retry
// next cycle.
type Loader interface {
	ID() LoaderID
	// BytesLoaded and BytesTotal drive initial-load progress.
	BytesLoaded() int64
	BytesTotal() int64
	// SortKey orders sibling sources for polling, oldest first, so
	// steps from a sequence of rotated logs arrive roughly in order.
	SortKey() time.Time
	Poll(sink Sink) bool
}

// LoaderDeps carries the shared infrastructure loaders need.
type LoaderDeps struct {
	Logger *slog.Logger
	Pool   *Pool
	// Tags is the engine's memoizing tag parser.
	Tags *TagParser
}

// Probe pairs a path predicate with a loader constructor. The first
// matching probe in a Registry wins.
type Probe struct {
	Name      string
	AppliesTo func(path string) bool
	New       func(path string, id LoaderID, deps LoaderDeps) (Loader, error)
}

// Registry maps paths to loader implementations.
type Registry struct {
	probes []Probe
}

// NewRegistry builds a registry from probes, tried in order.
func NewRegistry(probes ...Probe) *Registry {
	return &Registry{probes: probes}
}

// Register appends a probe. Later probes only see paths no earlier
// probe claimed.
func (r *Registry) Register(p Probe) {
	r.probes = append(r.probes, p)
}

// Resolve constructs a loader for path, or an error if no probe
// claims it.
func (r *Registry) Resolve(path string, id LoaderID, deps LoaderDeps) (Loader, error) {
	for _, probe := range r.probes {
		if probe.AppliesTo(path) {
			loader, err := probe.New(path, id, deps)
			if err != nil {
				return nil, fmt.Errorf("%s loader for %s: %w", probe.Name, path, err)
			}
			return loader, nil
		}
	}
	return nil, fmt.Errorf("no loader recognizes %s", path)
}

// DefaultRegistry recognizes the three built-in source shapes: a
// single event log, a directory containing event logs, and a record
// batch file.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Probe{
			Name:      "eventlog",
			AppliesTo: isEventLogPath,
			New: func(path string, id LoaderID, deps LoaderDeps) (Loader, error) {
				return NewEventLogLoader(path, id, deps), nil
			},
		},
		Probe{
			Name:      "directory",
			AppliesTo: isEventLogDir,
			New:       NewDirLoader,
		},
		Probe{
			Name:      "recordfile",
			AppliesTo: isRecordFilePath,
			New: func(path string, id LoaderID, deps LoaderDeps) (Loader, error) {
				return NewRecordFileLoader(path, id, deps), nil
			},
		},
	)
}

func isEventLogPath(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return strings.Contains(info.Name(), eventLogMarker)
}

func isRecordFilePath(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return strings.Contains(info.Name(), recordFileMarker)
}

func isEventLogDir(path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.Contains(entry.Name(), eventLogMarker) {
			return true
		}
	}
	return false
}
