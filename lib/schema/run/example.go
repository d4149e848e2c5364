// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"fmt"

	"github.com/bureau-foundation/runlog/lib/blob"
	"github.com/bureau-foundation/runlog/lib/codec"
)

// Example is one record payload in a .records batch file: a structured
// sample with an optional image and an optional stack of segmentation
// mask planes. Which entries the ingestion core emits for a record
// depends on which fields are present.
type Example struct {
	// Identifier names the sample, e.g. a source filename.
	Identifier string `cbor:"identifier,omitempty"`

	// Label is an optional class label.
	Label *int64 `cbor:"label,omitempty"`

	// Height and Width are the sample's pixel dimensions. Both must
	// be present for any image or mask field to be interpretable.
	Height int `cbor:"height,omitempty"`
	Width  int `cbor:"width,omitempty"`

	// Image is the sample's image data.
	Image *blob.Container `cbor:"image,omitempty"`

	// Mask holds zero or more mask planes packed back to back:
	// plane i occupies bytes [i*W*H, (i+1)*W*H) of the uncompressed
	// payload. The container's Height field declares the packed
	// height (plane height × plane count).
	Mask *blob.Container `cbor:"mask,omitempty"`
}

// HasImage reports whether the example carries a displayable image.
func (e Example) HasImage() bool {
	return e.Image != nil && e.Height > 0 && e.Width > 0
}

// MaskPlanes returns the number of packed mask planes, derived without
// decompressing: for uncompressed masks, total byte length divided by
// one plane's size; for compressed masks, the container's packed
// height divided by the example height.
func (e Example) MaskPlanes() int {
	if e.Mask == nil || e.Height <= 0 || e.Width <= 0 {
		return 0
	}
	planeSize := e.Height * e.Width
	if e.Mask.Compression == blob.CompressionNone {
		return len(e.Mask.Data) / planeSize
	}
	return e.Mask.Height / e.Height
}

// EncodeExample serializes an example for framing into a record file.
func EncodeExample(example Example) ([]byte, error) {
	data, err := codec.Marshal(example)
	if err != nil {
		return nil, fmt.Errorf("encoding example: %w", err)
	}
	return data, nil
}

// DecodeExample deserializes an example payload read from a framed
// record.
func DecodeExample(payload []byte) (Example, error) {
	var example Example
	if err := codec.Unmarshal(payload, &example); err != nil {
		return Example{}, fmt.Errorf("decoding example: %w", err)
	}
	return example, nil
}
