// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/runlog/lib/blob"
	"github.com/bureau-foundation/runlog/lib/recordio"
	"github.com/bureau-foundation/runlog/lib/schema/run"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps(t *testing.T) LoaderDeps {
	t.Helper()
	pool := NewPool(2, testLogger())
	t.Cleanup(pool.Stop)
	return LoaderDeps{Logger: testLogger(), Pool: pool, Tags: NewTagParser()}
}

// recordingSink collects everything loaders push during a poll.
type recordingSink struct {
	interrupt bool
	entries   []*StepEntry
	points    []ScalarPoint
	removed   []LoaderID
	records   int
}

func (s *recordingSink) Interrupted() bool { return s.interrupt }

func (s *recordingSink) AddRecord(entries []*StepEntry, points []ScalarPoint) {
	s.entries = append(s.entries, entries...)
	s.points = append(s.points, points...)
}

func (s *recordingSink) RemoveSource(id LoaderID) {
	s.removed = append(s.removed, id)
}

func (s *recordingSink) FinishRecord() { s.records++ }

func scalarSummary(tag string, value float64) run.Summary {
	return run.Summary{Tag: tag, Scalar: &value}
}

func imageSummary(t *testing.T, tag string, width, height int, raw []byte) run.Summary {
	t.Helper()
	container, err := blob.Pack(raw, blob.CompressionNone, width, height)
	if err != nil {
		t.Fatalf("packing image blob: %v", err)
	}
	return run.Summary{Tag: tag, Image: &container}
}

// appendEvents appends framed events to path, creating it if needed.
func appendEvents(t *testing.T, path string, events ...run.Event) {
	t.Helper()
	writer, err := recordio.Append(path)
	if err != nil {
		t.Fatalf("opening %s for append: %v", path, err)
	}
	defer writer.Close()
	for _, event := range events {
		payload, err := run.EncodeEvent(event)
		if err != nil {
			t.Fatalf("encoding event: %v", err)
		}
		if err := writer.Write(payload); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}
}

func appendExamples(t *testing.T, path string, examples ...run.Example) {
	t.Helper()
	writer, err := recordio.Append(path)
	if err != nil {
		t.Fatalf("opening %s for append: %v", path, err)
	}
	defer writer.Close()
	for _, example := range examples {
		payload, err := run.EncodeExample(example)
		if err != nil {
			t.Fatalf("encoding example: %v", err)
		}
		if err := writer.Write(payload); err != nil {
			t.Fatalf("writing example: %v", err)
		}
	}
}

func eventLogPath(t *testing.T, dir, name string) string {
	t.Helper()
	return filepath.Join(dir, name+".evlog")
}

func scalarEvent(step int64, tag string, value float64) run.Event {
	return run.Event{Step: step, Summaries: []run.Summary{scalarSummary(tag, value)}}
}
