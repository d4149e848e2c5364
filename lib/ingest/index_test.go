// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import "testing"

func imageStepEntry(t *testing.T, deps LoaderDeps, tag Tag, step int64) *StepEntry {
	t.Helper()
	return NewStepEntry(tag, KindImage, step, LoaderID{0}, deps.Pool,
		func() (BlobResult, error) {
			return BlobResult{Kind: BlobRaw, Data: []byte{0}, Width: 1, Height: 1}, nil
		})
}

func TestIndexDuplicateStepKeepsBoth(t *testing.T) {
	deps := testDeps(t)
	x := newIndex()
	tag := ParseTag("samples/0")
	first := imageStepEntry(t, deps, tag, 5)
	second := imageStepEntry(t, deps, tag, 5)

	x.insert(first)
	newTag, stepPos := x.insert(second)
	if newTag {
		t.Fatal("tag was already known")
	}
	if stepPos != -1 {
		t.Fatalf("step 5 was already in the step list, got position %d", stepPos)
	}

	list := x.entries[tag.Key()]
	if len(list) != 2 {
		t.Fatalf("expected both writes of step 5 retained, got %d entries", len(list))
	}
	if list[0] != first || list[1] != second {
		t.Fatal("duplicate must insert to the right of the existing entry")
	}
	if x.byStep[5][tag.Key()] != second {
		t.Fatal("step lookup must see the newest duplicate")
	}

	// The superseded entry is still live and materializable; a consumer
	// holding it keeps a working future.
	future := first.Data()
	<-future.Done()
	if _, _, ok := future.Result(); !ok {
		t.Fatal("superseded entry must still materialize")
	}
}

func TestIndexDuplicateStepOrdering(t *testing.T) {
	deps := testDeps(t)
	x := newIndex()
	tag := ParseTag("samples/0")
	x.insert(imageStepEntry(t, deps, tag, 3))
	x.insert(imageStepEntry(t, deps, tag, 7))
	x.insert(imageStepEntry(t, deps, tag, 5))
	x.insert(imageStepEntry(t, deps, tag, 5))

	list := x.entries[tag.Key()]
	steps := make([]int64, len(list))
	for i, e := range list {
		steps[i] = e.Step()
	}
	want := []int64{3, 5, 5, 7}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("expected step order %v, got %v", want, steps)
		}
	}
	if got := x.steps; len(got) != 3 || got[0] != 3 || got[1] != 5 || got[2] != 7 {
		t.Fatalf("distinct step list must dedup, got %v", got)
	}
}
