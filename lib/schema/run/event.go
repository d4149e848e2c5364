// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"fmt"

	"github.com/bureau-foundation/runlog/lib/blob"
	"github.com/bureau-foundation/runlog/lib/codec"
)

// Event is one record payload in an .evlog event log: everything a
// training process flushed for one step. A single event may carry any
// number of summaries, each an independent named value.
type Event struct {
	// Step is the training iteration this event belongs to. Steps
	// are not required to be contiguous or unique across events.
	Step int64 `cbor:"step"`

	// WallTime is the producer's clock at flush time, in Unix
	// milliseconds. Informational only.
	WallTime int64 `cbor:"wall_time,omitempty"`

	// Summaries are the named values flushed with this step.
	Summaries []Summary `cbor:"summaries,omitempty"`
}

// Summary is one named value inside an event. Exactly one of Scalar
// or Image is set; a summary with neither (or both) is malformed.
type Summary struct {
	// Tag names the value's stream, e.g. "loss/train" or
	// "samples/3/image".
	Tag string `cbor:"tag"`

	// Scalar is a single numeric observation.
	Scalar *float64 `cbor:"scalar,omitempty"`

	// Image is an encoded image blob. The ingestion core stores it
	// by record offset and opens it lazily on the decode pool.
	Image *blob.Container `cbor:"image,omitempty"`
}

// Valid reports whether the summary has exactly one value arm set.
func (s Summary) Valid() bool {
	return (s.Scalar != nil) != (s.Image != nil)
}

// EncodeEvent serializes an event for framing into a log file.
func EncodeEvent(event Event) ([]byte, error) {
	data, err := codec.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return data, nil
}

// DecodeEvent deserializes an event payload read from a framed record.
func DecodeEvent(payload []byte) (Event, error) {
	var event Event
	if err := codec.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	return event, nil
}
