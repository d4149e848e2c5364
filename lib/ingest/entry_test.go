// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"testing"
	"time"

	"github.com/bureau-foundation/runlog/lib/testutil"
)

func TestSeriesEntryOrdersSteps(t *testing.T) {
	entry := NewSeriesEntry(ParseTag("loss"))
	loader := LoaderID{0}
	entry.Add(10, 1.0, loader)
	entry.Add(5, 2.0, loader)
	entry.Add(20, 3.0, loader)
	entry.Add(15, 4.0, loader)

	steps, values, ok := entry.Track(loader)
	if !ok {
		t.Fatal("expected track for loader 0")
	}
	wantSteps := []int64{5, 10, 15, 20}
	wantValues := []float64{2.0, 1.0, 4.0, 3.0}
	for i := range wantSteps {
		if steps[i] != wantSteps[i] || values[i] != wantValues[i] {
			t.Fatalf("position %d: got (%d, %v), want (%d, %v)",
				i, steps[i], values[i], wantSteps[i], wantValues[i])
		}
	}
}

func TestSeriesEntryPartitionsByTopLevelSource(t *testing.T) {
	entry := NewSeriesEntry(ParseTag("loss"))
	// Two children of source 0 merge; source 1 stays separate.
	entry.Add(1, 0.5, LoaderID{0, 0})
	entry.Add(2, 0.4, LoaderID{0, 1})
	entry.Add(1, 0.9, LoaderID{1})

	sources := entry.Sources()
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %v", sources)
	}
	steps, _, ok := entry.Track(LoaderID{0, 5})
	if !ok || len(steps) != 2 {
		t.Fatalf("expected merged track of 2 for source 0, got %v ok=%v", steps, ok)
	}
	all := entry.Steps()
	if len(all) != 2 || all[0] != 1 || all[1] != 2 {
		t.Fatalf("unexpected distinct steps %v", all)
	}
	if entry.Len() != 3 {
		t.Fatalf("expected 3 observations, got %d", entry.Len())
	}
}

func TestSeriesEntryDuplicateStepKeepsBoth(t *testing.T) {
	entry := NewSeriesEntry(ParseTag("loss"))
	loader := LoaderID{0}
	entry.Add(5, 1.0, loader)
	entry.Add(5, 2.0, loader)

	steps, _, _ := entry.Track(loader)
	if len(steps) != 2 || steps[0] != 5 || steps[1] != 5 {
		t.Fatalf("expected both observations at step 5, got %v", steps)
	}
	if all := entry.Steps(); len(all) != 1 {
		t.Fatalf("distinct steps should deduplicate, got %v", all)
	}
}

func TestStepEntryDataDeliversResult(t *testing.T) {
	pool := NewPool(1, testLogger())
	defer pool.Stop()

	entry := NewStepEntry(ParseTag("samples/0"), KindImage, 3, LoaderID{0}, pool,
		func() (BlobResult, error) {
			return BlobResult{Kind: BlobRaw, Data: []byte{1, 2}, Width: 1, Height: 2}, nil
		})

	future := entry.Data()
	result := testutil.RequireReceive(t, future.Ready(), 5*time.Second, "waiting for blob")
	if result.Kind != BlobRaw || len(result.Data) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestStepEntryDataReusesPendingFuture(t *testing.T) {
	pool := NewPool(1, testLogger())
	defer pool.Stop()

	gate := make(chan struct{})
	entry := NewStepEntry(ParseTag("samples/0"), KindImage, 3, LoaderID{0}, pool,
		func() (BlobResult, error) {
			<-gate
			return BlobResult{Kind: BlobRaw, Data: []byte{1}, Width: 1, Height: 1}, nil
		})

	first := entry.Data()
	second := entry.Data()
	if first != second {
		t.Fatal("expected the pending future to be reused")
	}
	close(gate)
	testutil.RequireClosed(t, first.Done(), 5*time.Second, "future completion")

	// A terminal future is not handed out again.
	third := entry.Data()
	if third == first {
		t.Fatal("expected a fresh future after completion")
	}
	testutil.RequireClosed(t, third.Done(), 5*time.Second, "second run")
}

func TestStepEntryReleaseCancelsFuture(t *testing.T) {
	pool := NewPool(1, testLogger())
	defer pool.Stop()

	// Occupy the single worker so the entry's future stays queued.
	gate := make(chan struct{})
	blocker := newFuture(pool, func() (BlobResult, error) {
		<-gate
		return BlobResult{}, nil
	})
	blocker.Start()

	entry := NewStepEntry(ParseTag("samples/0"), KindImage, 3, LoaderID{0}, pool,
		func() (BlobResult, error) {
			t.Error("materializer ran after release")
			return BlobResult{}, nil
		})
	future := entry.Data()
	entry.Release()
	close(gate)

	testutil.RequireClosed(t, future.Done(), 5*time.Second, "cancelled future terminal")
	if _, _, ok := future.Result(); ok {
		t.Fatal("cancelled future must not report a result")
	}
}

func TestFutureCancelIdempotent(t *testing.T) {
	pool := NewPool(1, testLogger())
	defer pool.Stop()

	future := newFuture(pool, func() (BlobResult, error) { return BlobResult{}, nil })
	future.Cancel()
	future.Cancel()
	future.Start() // after Cancel, Start is a no-op
	testutil.RequireClosed(t, future.Done(), time.Second, "terminal after cancel")
	if !future.Terminal() {
		t.Fatal("expected terminal")
	}
}

func TestFutureUnavailableDoesNotFireReady(t *testing.T) {
	pool := NewPool(1, testLogger())
	defer pool.Stop()

	future := newFuture(pool, func() (BlobResult, error) {
		return BlobResult{Kind: BlobUnavailable, Info: "missing"}, nil
	})
	future.Start()
	testutil.RequireClosed(t, future.Done(), 5*time.Second, "future done")

	select {
	case <-future.Ready():
		t.Fatal("Ready fired for an unavailable result")
	default:
	}
	result, err, ok := future.Result()
	if !ok || err != nil || result.Kind != BlobUnavailable {
		t.Fatalf("unexpected result %+v err=%v ok=%v", result, err, ok)
	}
}

func TestPoolStopCancelsQueued(t *testing.T) {
	pool := NewPool(1, testLogger())

	gate := make(chan struct{})
	running := make(chan struct{})
	inflight := newFuture(pool, func() (BlobResult, error) {
		close(running)
		<-gate
		return BlobResult{Kind: BlobRaw, Data: []byte{1}, Width: 1, Height: 1}, nil
	})
	inflight.Start()
	testutil.RequireClosed(t, running, 5*time.Second, "worker busy")

	queued := newFuture(pool, func() (BlobResult, error) {
		t.Error("queued future ran after Stop")
		return BlobResult{}, nil
	})
	queued.Start()

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	// Stop cancels the queued future before waiting on the busy
	// worker, which is still gated.
	testutil.RequireClosed(t, queued.Done(), 5*time.Second, "queued future cancelled")
	close(gate)
	testutil.RequireClosed(t, stopped, 5*time.Second, "pool stop")
	if _, _, ok := inflight.Result(); !ok {
		t.Fatal("in-flight future should have completed")
	}

	// A future started after Stop is cancelled immediately.
	late := newFuture(pool, func() (BlobResult, error) { return BlobResult{}, nil })
	late.Start()
	testutil.RequireClosed(t, late.Done(), time.Second, "late future cancelled")
}
