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

// recordFileMarker tags filenames holding framed examples.
const recordFileMarker = ".records"

// RecordFileLoader ingests a batch file of labelled examples. Record
// files have no step field; the record's ordinal position is its
// step, so the n-th example always lands at step n regardless of how
// many polls it took to arrive.
type RecordFileLoader struct {
	id      LoaderID
	tracker *Tracker
	deps    LoaderDeps

	nextStep      int64
	lastBadOffset int64
}

// NewRecordFileLoader tracks path from offset zero.
func NewRecordFileLoader(path string, id LoaderID, deps LoaderDeps) *RecordFileLoader {
	return &RecordFileLoader{
		id:            id,
		tracker:       NewTracker(path, deps.Logger),
		deps:          deps,
		lastBadOffset: -1,
	}
}

func (l *RecordFileLoader) ID() LoaderID       { return l.id }
func (l *RecordFileLoader) BytesLoaded() int64 { return l.tracker.Offset() }
func (l *RecordFileLoader) BytesTotal() int64  { return l.tracker.Size() }
func (l *RecordFileLoader) SortKey() time.Time { return l.tracker.LastModified() }

func (l *RecordFileLoader) Poll(sink Sink) bool {
	if !l.tracker.IsValid() {
		l.deps.Logger.Info("record file removed or truncated, retiring source",
			"path", l.tracker.Path(), "loader", l.id)
		return false
	}
	if !l.tracker.Changed() {
		return true
	}

	reader, err := l.tracker.NewReader()
	if err != nil {
		l.deps.Logger.Warn("record file open failed, will retry",
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
		example, err := run.DecodeExample(payload)
		if err != nil {
			l.reportReadError(fmt.Errorf("decode example: %w", err), start)
			return true
		}
		l.applyExample(sink, example, start)
		l.tracker.Commit(end)
		l.lastBadOffset = -1
		l.nextStep++
		sink.FinishRecord()
		start = end
	}
}

func (l *RecordFileLoader) applyExample(sink Sink, example run.Example, offset int64) {
	step := l.nextStep
	tracker := l.tracker
	var entries []*StepEntry

	if example.HasImage() {
		tag := NewTag(TextSegment("image"))
		entries = append(entries, NewStepEntry(tag, KindImage, step, l.id, l.deps.Pool,
			func() (BlobResult, error) {
				return materializeExampleImage(tracker, offset, tag, step)
			}))
	}
	for plane := 0; plane < example.MaskPlanes(); plane++ {
		p := plane
		tag := NewTag(TextSegment("mask"), IndexSegment(p))
		entries = append(entries, NewStepEntry(tag, KindImage, step, l.id, l.deps.Pool,
			func() (BlobResult, error) {
				return materializeExampleMask(tracker, offset, p, tag, step)
			}))
	}
	sink.AddRecord(entries, nil)
}

func (l *RecordFileLoader) reportReadError(err error, offset int64) {
	switch {
	case errors.Is(err, recordio.ErrNoMore):
	case errors.Is(err, recordio.ErrCorrupt):
		if offset != l.lastBadOffset {
			l.deps.Logger.Warn("corrupt record, holding position until repaired or truncated",
				"path", l.tracker.Path(), "offset", offset, "error", err)
			l.lastBadOffset = offset
		}
	default:
		l.deps.Logger.Warn("record file read failed, will retry",
			"path", l.tracker.Path(), "offset", offset, "error", err)
	}
}

func decodeExampleAt(tracker *Tracker, offset int64) (*run.Example, error) {
	decoded, err := tracker.ReadDecoded(offset, func(payload []byte) (any, error) {
		example, err := run.DecodeExample(payload)
		if err != nil {
			return nil, err
		}
		return &example, nil
	})
	if err != nil {
		return nil, err
	}
	return decoded.(*run.Example), nil
}

func exampleInfo(example *run.Example, tag Tag, step int64) string {
	info := fmt.Sprintf("%s\nstep: %d\nid: %s", tag, step, example.Identifier)
	if example.Label != nil {
		info += fmt.Sprintf("\nlabel: %d", *example.Label)
	}
	return info
}

func materializeExampleImage(tracker *Tracker, offset int64, tag Tag, step int64) (BlobResult, error) {
	example, err := decodeExampleAt(tracker, offset)
	if err != nil {
		return BlobResult{}, err
	}
	if example.Image == nil {
		return BlobResult{Kind: BlobUnavailable, Info: "example has no image"}, nil
	}
	raw, err := example.Image.Open()
	if err != nil {
		return BlobResult{}, fmt.Errorf("open example image: %w", err)
	}
	plane := example.Width * example.Height
	if plane <= 0 || len(raw)%plane != 0 {
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
		Width:  example.Width,
		Height: example.Height,
		Color:  channels == 3,
		Info:   exampleInfo(example, tag, step),
	}, nil
}

func materializeExampleMask(tracker *Tracker, offset int64, plane int, tag Tag, step int64) (BlobResult, error) {
	example, err := decodeExampleAt(tracker, offset)
	if err != nil {
		return BlobResult{}, err
	}
	if example.Mask == nil {
		return BlobResult{Kind: BlobUnavailable, Info: "example has no mask"}, nil
	}
	raw, err := example.Mask.Open()
	if err != nil {
		return BlobResult{}, fmt.Errorf("open example mask: %w", err)
	}
	planeSize := example.Width * example.Height
	if planeSize <= 0 || (plane+1)*planeSize > len(raw) {
		return BlobResult{Kind: BlobUnavailable,
			Info: fmt.Sprintf("mask plane %d out of range", plane)}, nil
	}
	return BlobResult{
		Kind:   BlobRaw,
		Data:   raw[plane*planeSize : (plane+1)*planeSize],
		Width:  example.Width,
		Height: example.Height,
		Color:  false,
		Info:   exampleInfo(example, tag, step),
	}, nil
}
