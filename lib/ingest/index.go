// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"fmt"
	"sort"
)

// TagInfo describes one discovered tag.
type TagInfo struct {
	Tag  Tag
	Kind Kind
}

// index is the merged view over all sources: per-tag entry lists
// sorted by step, a step-major lookup table, the sorted distinct step
// list, and the scalar series map. It is not self-locking; the engine
// mutex guards it.
type index struct {
	// tags in order of first appearance, the order consumers show
	// them in.
	tags    []TagInfo
	tagKind map[string]Kind

	entries   map[string][]*StepEntry
	byStep    map[int64]map[string]*StepEntry
	steps     []int64
	series    map[string]*SeriesEntry
	seriesTag []Tag
}

func newIndex() *index {
	return &index{
		tagKind: make(map[string]Kind),
		entries: make(map[string][]*StepEntry),
		byStep:  make(map[int64]map[string]*StepEntry),
		series:  make(map[string]*SeriesEntry),
	}
}

// insert places a per-step entry. It returns whether the tag is new
// and the insertion position in the distinct step list, or -1 if the
// step already existed. A tag re-appearing with a different kind is a
// writer bug the index refuses to paper over.
func (x *index) insert(e *StepEntry) (newTag bool, stepPos int) {
	key := e.Tag().Key()
	if kind, seen := x.tagKind[key]; seen {
		if kind != e.Kind() {
			panic(fmt.Sprintf("tag %q redefined from %s to %s", key, kind, e.Kind()))
		}
	} else {
		x.tagKind[key] = e.Kind()
		x.tags = append(x.tags, TagInfo{Tag: e.Tag(), Kind: e.Kind()})
		newTag = true
	}

	// Insert to the right of any existing entries at the same step: a
	// run restarted from a checkpoint rewrites steps, and all writes
	// are retained in the list while the step lookup sees the newest.
	list := x.entries[key]
	pos := sort.Search(len(list), func(i int) bool { return list[i].Step() > e.Step() })
	list = append(list, nil)
	copy(list[pos+1:], list[pos:])
	list[pos] = e
	x.entries[key] = list

	row := x.byStep[e.Step()]
	if row == nil {
		row = make(map[string]*StepEntry)
		x.byStep[e.Step()] = row
	}
	row[key] = e

	stepPos = sort.Search(len(x.steps), func(i int) bool { return x.steps[i] >= e.Step() })
	if stepPos < len(x.steps) && x.steps[stepPos] == e.Step() {
		return newTag, -1
	}
	x.steps = append(x.steps, 0)
	copy(x.steps[stepPos+1:], x.steps[stepPos:])
	x.steps[stepPos] = e.Step()
	return newTag, stepPos
}

// ensureSeries returns the series for tag, creating it on first use.
// created reports whether this call made it.
func (x *index) ensureSeries(tag Tag) (entry *SeriesEntry, created bool) {
	key := tag.Key()
	if kind, seen := x.tagKind[key]; seen && kind != KindScalar {
		panic(fmt.Sprintf("tag %q redefined from %s to scalar", key, kind))
	}
	if entry = x.series[key]; entry != nil {
		return entry, false
	}
	entry = NewSeriesEntry(tag)
	x.series[key] = entry
	x.seriesTag = append(x.seriesTag, tag)
	if _, seen := x.tagKind[key]; !seen {
		x.tagKind[key] = KindScalar
		x.tags = append(x.tags, TagInfo{Tag: tag, Kind: KindScalar})
	}
	return entry, true
}

// releaseAll severs every per-step entry. Series entries hold no
// back-references and need no release.
func (x *index) releaseAll() {
	for _, list := range x.entries {
		for _, e := range list {
			e.Release()
		}
	}
}
