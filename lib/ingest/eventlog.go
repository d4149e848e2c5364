// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/runlog/lib/recordio"
	"github.com/bureau-foundation/runlog/lib/schema/run"
)

// eventLogMarker tags filenames holding framed run events.
const eventLogMarker = ".evlog"

// EventLogLoader tails a single event log. Each record is a run.Event
// carrying a step plus scalar and image summaries; image summaries
// become per-step index entries materialized lazily, scalars feed
// series entries directly.
type EventLogLoader struct {
	id      LoaderID
	tracker *Tracker
	deps    LoaderDeps

	// lastBadOffset suppresses repeated corruption logs while a bad
	// frame sits unrepaired at the tail.
	lastBadOffset int64
}

// NewEventLogLoader tracks path from offset zero.
func NewEventLogLoader(path string, id LoaderID, deps LoaderDeps) *EventLogLoader {
	return &EventLogLoader{
		id:            id,
		tracker:       NewTracker(path, deps.Logger),
		deps:          deps,
		lastBadOffset: -1,
	}
}

func (l *EventLogLoader) ID() LoaderID       { return l.id }
func (l *EventLogLoader) BytesLoaded() int64 { return l.tracker.Offset() }
func (l *EventLogLoader) BytesTotal() int64  { return l.tracker.Size() }

func (l *EventLogLoader) SortKey() time.Time { return l.tracker.LastModified() }

// Poll reads every complete record appended since the committed
// offset. The offset only advances after a record is validated,
// decoded, and applied, so a crash or interruption mid-cycle resumes
// exactly at the first unprocessed record. A checksum or decode
// failure stops the cycle without committing; if the bad bytes were a
// torn write that a later append completes, the retry succeeds.
func (l *EventLogLoader) Poll(sink Sink) bool {
	if !l.tracker.IsValid() {
		l.deps.Logger.Info("event log removed or truncated, retiring source",
			"path", l.tracker.Path(), "loader", l.id)
		return false
	}
	if !l.tracker.Changed() {
		return true
	}

	reader, err := l.tracker.NewReader()
	if err != nil {
		l.deps.Logger.Warn("event log open failed, will retry",
			"path", l.tracker.Path(), "error", err)
		return true
	}
	defer reader.Close()

	start := l.tracker.Offset()
	for {
		if sink.Interrupted() {
			return true
		}
		payload, end, err := reader.Next()
		if err != nil {
			l.reportReadError(err, start)
			return true
		}
		event, err := run.DecodeEvent(payload)
		if err != nil {
			l.reportReadError(fmt.Errorf("decode event: %w", err), start)
			return true
		}
		l.applyEvent(sink, event, start)
		l.tracker.Commit(end)
		l.lastBadOffset = -1
		sink.FinishRecord()
		start = end
	}
}

func (l *EventLogLoader) applyEvent(sink Sink, event run.Event, offset int64) {
	var entries []*StepEntry
	var points []ScalarPoint
	for i, summary := range event.Summaries {
		tag := l.deps.Tags.Parse(summary.Tag)
		switch {
		case summary.Scalar != nil:
			points = append(points, ScalarPoint{
				Tag:    tag,
				Step:   event.Step,
				Value:  *summary.Scalar,
				Loader: l.id,
			})
		case summary.Image != nil:
			index := i
			tracker := l.tracker
			entries = append(entries, NewStepEntry(tag, KindImage, event.Step, l.id, l.deps.Pool,
				func() (BlobResult, error) {
					return materializeEventImage(tracker, offset, index, tag)
				}))
		}
	}
	sink.AddRecord(entries, points)
}

func (l *EventLogLoader) reportReadError(err error, offset int64) {
	switch {
	case errors.Is(err, recordio.ErrNoMore):
		// Clean tail, or a partial frame still being written.
	case errors.Is(err, recordio.ErrCorrupt):
		if offset != l.lastBadOffset {
			l.deps.Logger.Warn("corrupt record, holding position until repaired or truncated",
				"path", l.tracker.Path(), "offset", offset, "error", err)
			l.lastBadOffset = offset
		}
	default:
		l.deps.Logger.Warn("event log read failed, will retry",
			"path", l.tracker.Path(), "offset", offset, "error", err)
	}
}

// materializeEventImage runs on a pool worker. It re-reads the record
// through the tracker's decode cache and decompresses the index-th
// summary's image blob.
func materializeEventImage(tracker *Tracker, offset int64, index int, tag Tag) (BlobResult, error) {
	decoded, err := tracker.ReadDecoded(offset, func(payload []byte) (any, error) {
		event, err := run.DecodeEvent(payload)
		if err != nil {
			return nil, err
		}
		return &event, nil
	})
	if err != nil {
		return BlobResult{}, err
	}
	event := decoded.(*run.Event)
	if index >= len(event.Summaries) || event.Summaries[index].Image == nil {
		return BlobResult{Kind: BlobUnavailable, Info: "summary has no image"}, nil
	}
	container := event.Summaries[index].Image
	raw, err := container.Open()
	if err != nil {
		return BlobResult{}, fmt.Errorf("open image blob: %w", err)
	}
	if container.Width <= 0 || container.Height <= 0 {
		// No dimensions: the payload is an encoded image format.
		return BlobResult{
			Kind: BlobCompressed,
			Data: raw,
			Info: fmt.Sprintf("%s\nstep: %d\nencoded: %d bytes", tag, event.Step, len(raw)),
		}, nil
	}
	plane := container.Width * container.Height
	if plane == 0 || len(raw)%plane != 0 {
		return BlobResult{Kind: BlobUnavailable, Info: "image size does not match dimensions"}, nil
	}
	channels := len(raw) / plane
	if channels != 1 && channels != 3 {
		return BlobResult{Kind: BlobUnavailable,
			Info: fmt.Sprintf("unsupported channel count %d", channels)}, nil
	}
	return BlobResult{
		Kind:   BlobRaw,
		Data:   raw,
		Width:  container.Width,
		Height: container.Height,
		Color:  channels == 3,
		Info:   fmt.Sprintf("%s\nstep: %d\n%dx%d", tag, event.Step, container.Width, container.Height),
	}, nil
}
