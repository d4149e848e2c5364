// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/schema/run"
	"github.com/bureau-foundation/runlog/lib/testutil"
)

const testPollInterval = 2 * time.Second

func newTestEngine(t *testing.T) (*Engine, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Unix(1700000000, 0))
	engine := NewEngine(DefaultRegistry(), clk, testLogger(), Config{
		PollInterval: testPollInterval,
		Workers:      2,
	})
	t.Cleanup(engine.Stop)
	return engine, clk
}

// waitForNote drains the subscription until a notification of the
// given kind arrives.
func waitForNote(t *testing.T, sub *Subscription, kind NotificationKind) Notification {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for notification kind %d", kind)
		}
		note := testutil.RequireReceive(t, sub.C(), remaining, "notification of kind %d", kind)
		if note.Kind == kind {
			return note
		}
	}
}

// advanceCycle fires the poll timer and waits for the engine to block
// on the next one, which means the cycle in between has completed.
func advanceCycle(t *testing.T, clk *clock.FakeClock) {
	t.Helper()
	clk.WaitForTimers(1)
	clk.Advance(testPollInterval)
	clk.WaitForTimers(1)
}

func TestEngineInitialLoadAndTail(t *testing.T) {
	dir := t.TempDir()
	appendEvents(t, eventLogPath(t, dir, "a"),
		scalarEvent(0, "loss", 1.0),
		scalarEvent(1, "loss", 0.8),
	)
	appendEvents(t, eventLogPath(t, dir, "b"),
		scalarEvent(5, "loss", 0.5),
	)

	engine, clk := newTestEngine(t)
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(dir); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, sub, NoteInitialLoadDone)

	if !engine.InitialLoadDone() {
		t.Fatal("initial load should be done")
	}
	series, ok := engine.Series(ParseTag("loss"))
	if !ok {
		t.Fatal("expected loss series")
	}
	steps := series.Steps()
	want := []int64{0, 1, 5}
	if len(steps) != len(want) {
		t.Fatalf("steps %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("steps %v, want %v", steps, want)
		}
	}
	// Both logs are children of one directory source: a single merged
	// track.
	if sources := series.Sources(); len(sources) != 1 {
		t.Fatalf("expected 1 top-level source, got %v", sources)
	}

	// The log keeps growing; the next cycle picks it up.
	appendEvents(t, eventLogPath(t, dir, "a"), scalarEvent(2, "loss", 0.7))
	advanceCycle(t, clk)
	waitForNote(t, sub, NoteProgress)
	if steps := series.Steps(); len(steps) != 4 {
		t.Fatalf("expected 4 steps after tail, got %v", steps)
	}
}

func TestEngineImageEntriesAndStepIndex(t *testing.T) {
	dir := t.TempDir()
	raw := make([]byte, 4*2) // 4x2 grayscale
	for i := range raw {
		raw[i] = byte(i)
	}
	path := eventLogPath(t, dir, "run")
	appendEvents(t, path,
		run.Event{Step: 3, Summaries: []run.Summary{imageSummary(t, "samples/0/image", 4, 2, raw)}},
		run.Event{Step: 7, Summaries: []run.Summary{imageSummary(t, "samples/0/image", 4, 2, raw)}},
	)

	engine, _ := newTestEngine(t)
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, sub, NoteInitialLoadDone)

	tags := engine.Tags()
	if len(tags) != 1 || tags[0].Tag.Key() != "samples/0" || tags[0].Kind != KindImage {
		t.Fatalf("unexpected tags %v", tags)
	}
	steps := engine.Steps()
	if len(steps) != 2 || steps[0] != 3 || steps[1] != 7 {
		t.Fatalf("unexpected steps %v", steps)
	}
	entries := engine.Entries(ParseTag("samples/0"))
	if len(entries) != 2 || entries[0].Step() != 3 || entries[1].Step() != 7 {
		t.Fatalf("unexpected entries %v", entries)
	}
	entry, ok := engine.EntryAt(7, ParseTag("samples/0"))
	if !ok {
		t.Fatal("expected entry at step 7")
	}
	result := testutil.RequireReceive(t, entry.Data().Ready(), 5*time.Second, "materialize")
	if result.Kind != BlobRaw || result.Width != 4 || result.Height != 2 || result.Color {
		t.Fatalf("unexpected blob %+v", result)
	}
}

func TestEngineStepNotificationsAfterInitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := eventLogPath(t, dir, "run")
	raw := []byte{0, 0, 0, 0}
	appendEvents(t, path,
		run.Event{Step: 1, Summaries: []run.Summary{imageSummary(t, "x", 2, 2, raw)}},
	)

	engine, clk := newTestEngine(t)
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, sub, NoteInitialLoadDone)

	// During initial load, step positions are not announced; only
	// after it do inserts notify.
	for {
		select {
		case note := <-sub.C():
			if note.Kind == NoteStepInserted {
				t.Fatal("step insert announced during initial load")
			}
			continue
		default:
		}
		break
	}

	appendEvents(t, path,
		run.Event{Step: 5, Summaries: []run.Summary{imageSummary(t, "x", 2, 2, raw)}},
	)
	advanceCycle(t, clk)
	note := waitForNote(t, sub, NoteStepInserted)
	if note.StepPosition != 1 {
		t.Fatalf("step 5 should insert at position 1, got %d", note.StepPosition)
	}

	// An out-of-order step lands in the middle.
	appendEvents(t, path,
		run.Event{Step: 3, Summaries: []run.Summary{imageSummary(t, "x", 2, 2, raw)}},
	)
	advanceCycle(t, clk)
	note = waitForNote(t, sub, NoteStepInserted)
	if note.StepPosition != 1 {
		t.Fatalf("step 3 should insert at position 1, got %d", note.StepPosition)
	}
	steps := engine.Steps()
	if len(steps) != 3 || steps[0] != 1 || steps[1] != 3 || steps[2] != 5 {
		t.Fatalf("unexpected steps %v", steps)
	}
}

func TestEngineProgressPrecedesStepNotes(t *testing.T) {
	dir := t.TempDir()
	path := eventLogPath(t, dir, "run")
	raw := []byte{0, 0, 0, 0}
	appendEvents(t, path,
		run.Event{Step: 1, Summaries: []run.Summary{imageSummary(t, "x", 2, 2, raw)}},
	)

	engine, clk := newTestEngine(t)
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, sub, NoteInitialLoadDone)
	for len(sub.C()) > 0 {
		<-sub.C()
	}

	// One tailed record delivers its progress note before the step
	// position it inserted.
	appendEvents(t, path,
		run.Event{Step: 2, Summaries: []run.Summary{imageSummary(t, "x", 2, 2, raw)}},
	)
	advanceCycle(t, clk)
	sawProgress := false
	deadline := time.After(5 * time.Second)
	for {
		select {
		case note := <-sub.C():
			switch note.Kind {
			case NoteProgress:
				sawProgress = true
			case NoteStepInserted:
				if !sawProgress {
					t.Fatal("step insert delivered before the record's progress note")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for step insert")
		}
	}
}

func TestEngineSubscribeReplaysTags(t *testing.T) {
	dir := t.TempDir()
	path := eventLogPath(t, dir, "run")
	appendEvents(t, path, scalarEvent(1, "loss", 1.0), scalarEvent(1, "accuracy", 0.5))

	engine, _ := newTestEngine(t)
	early := engine.Subscribe()
	defer early.Close()
	if err := engine.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, early, NoteInitialLoadDone)

	// A late subscriber sees the already-discovered tags replayed in
	// first-appearance order.
	late := engine.Subscribe()
	defer late.Close()
	first := waitForNote(t, late, NoteTagAdded)
	if first.Tag.Key() != "loss" {
		t.Fatalf("expected loss replayed first, got %q", first.Tag.Key())
	}
	series := waitForNote(t, late, NoteSeriesAdded)
	if series.Tag.Key() != "loss" {
		t.Fatalf("expected loss series replayed, got %q", series.Tag.Key())
	}
	second := waitForNote(t, late, NoteTagAdded)
	if second.Tag.Key() != "accuracy" {
		t.Fatalf("expected accuracy second, got %q", second.Tag.Key())
	}
}

func TestEngineAddSource(t *testing.T) {
	dir := t.TempDir()
	first := eventLogPath(t, dir, "first")
	appendEvents(t, first, scalarEvent(1, "loss", 1.0))

	engine, _ := newTestEngine(t)
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(first); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, sub, NoteInitialLoadDone)

	second := eventLogPath(t, dir, "second")
	appendEvents(t, second, scalarEvent(2, "accuracy", 0.9))
	engine.AddSource(second)

	// The wake channel triggers a cycle without advancing the clock.
	note := waitForNote(t, sub, NoteTagAdded)
	if note.Tag.Key() != "accuracy" {
		t.Fatalf("unexpected tag %q", note.Tag.Key())
	}
	waitForNote(t, sub, NoteInitialLoadDone)

	series, ok := engine.Series(ParseTag("accuracy"))
	if !ok {
		t.Fatal("expected accuracy series")
	}
	if sources := series.Sources(); len(sources) != 1 || sources[0].Top() != 1 {
		t.Fatalf("added source should get the next top-level id, got %v", sources)
	}
}

func TestEngineReload(t *testing.T) {
	dir := t.TempDir()
	path := eventLogPath(t, dir, "run")
	appendEvents(t, path, scalarEvent(1, "loss", 1.0))

	engine, _ := newTestEngine(t)
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, sub, NoteInitialLoadDone)

	engine.Reload()
	waitForNote(t, sub, NoteCleared)
	waitForNote(t, sub, NoteInitialLoadDone)

	series, ok := engine.Series(ParseTag("loss"))
	if !ok {
		t.Fatal("expected loss series after reload")
	}
	// Loader IDs are never reused: the reloaded source gets a fresh
	// top-level ordinal.
	if sources := series.Sources(); len(sources) != 1 || sources[0].Top() != 1 {
		t.Fatalf("unexpected sources after reload %v", sources)
	}
	if len(series.Steps()) != 1 {
		t.Fatalf("unexpected steps after reload %v", series.Steps())
	}
}

func TestEngineStopsWhenAllSourcesRetire(t *testing.T) {
	dir := t.TempDir()
	path := eventLogPath(t, dir, "run")
	appendEvents(t, path, scalarEvent(1, "loss", 1.0))

	engine, clk := newTestEngine(t)
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, sub, NoteInitialLoadDone)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	clk.WaitForTimers(1)
	clk.Advance(testPollInterval)

	removed := waitForNote(t, sub, NoteSourceRemoved)
	if removed.Loader.Key() != "0" {
		t.Fatalf("unexpected removed loader %v", removed.Loader)
	}
	waitForNote(t, sub, NoteStopped)
	testutil.RequireClosed(t, engine.Done(), 5*time.Second, "engine done")
	if engine.State() != StateStopped {
		t.Fatalf("unexpected state %s", engine.State())
	}
}

func TestEngineStop(t *testing.T) {
	dir := t.TempDir()
	path := eventLogPath(t, dir, "run")
	appendEvents(t, path, scalarEvent(1, "loss", 1.0))

	engine, _ := newTestEngine(t)
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, sub, NoteInitialLoadDone)

	engine.Stop()
	waitForNote(t, sub, NoteStopped)
	if engine.State() != StateStopped {
		t.Fatalf("unexpected state %s", engine.State())
	}
	// Stop again is safe, and the index stays readable.
	engine.Stop()
	if _, ok := engine.Series(ParseTag("loss")); !ok {
		t.Fatal("index should remain readable after stop")
	}
}

func TestEngineStartSkipsUnknownPaths(t *testing.T) {
	dir := t.TempDir()
	good := eventLogPath(t, dir, "run")
	appendEvents(t, good, scalarEvent(1, "loss", 1.0))

	engine, _ := newTestEngine(t)
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(filepath.Join(dir, "notes.txt"), good); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, sub, NoteInitialLoadDone)
	if _, ok := engine.Series(ParseTag("loss")); !ok {
		t.Fatal("expected the recognized source to be ingested")
	}
}

func TestEngineStartNoRecognizedPathsStopsItself(t *testing.T) {
	engine, _ := newTestEngine(t)
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start("/nonexistent/whatever.txt"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, sub, NoteStopped)
	testutil.RequireClosed(t, engine.Done(), 5*time.Second, "engine done")
	if engine.State() != StateStopped {
		t.Fatalf("unexpected state %s", engine.State())
	}
}

func TestEngineStatsAndProgress(t *testing.T) {
	dir := t.TempDir()
	path := eventLogPath(t, dir, "run")
	appendEvents(t, path, scalarEvent(1, "loss", 1.0), scalarEvent(2, "loss", 0.5))

	engine, _ := newTestEngine(t)
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForNote(t, sub, NoteInitialLoadDone)

	stats := engine.Stats()
	if stats.RecordsApplied != 2 {
		t.Fatalf("expected 2 records applied, got %d", stats.RecordsApplied)
	}
	if stats.Subscribers != 1 {
		t.Fatalf("expected 1 subscriber, got %d", stats.Subscribers)
	}
	loaded, total := engine.Progress()
	if loaded != total || loaded == 0 {
		t.Fatalf("fully loaded engine should report loaded == total > 0, got %d/%d", loaded, total)
	}
}

func TestSubscriptionOverflowDropsNotCorrupts(t *testing.T) {
	engine, _ := newTestEngine(t)
	defer engine.Stop()
	sub := engine.Subscribe()
	defer sub.Close()

	// Flood past the buffer; deliveries beyond capacity are counted,
	// not blocked on.
	for i := 0; i < cap(sub.ch)+10; i++ {
		engine.notifyAll(Notification{Kind: NoteProgress, Ratio: 1})
	}
	if sub.Dropped() != 10 {
		t.Fatalf("expected 10 drops, got %d", sub.Dropped())
	}
}
