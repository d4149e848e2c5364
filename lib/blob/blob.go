// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm used for a
// container's payload. Stored in record payloads — these values are
// protocol constants.
type CompressionTag uint8

const (
	// CompressionNone indicates uncompressed data. Used for content
	// that is already compressed (PNG, JPEG) where a second pass adds
	// CPU cost without reducing size.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 indicates LZ4 block compression. Fast default
	// for raw pixel data.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd indicates zstd at the default level. Better
	// ratios for sparse data such as packed mask planes.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression tag from its string form.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// Container is a compressed payload embedded in a record. RawSize is
// the exact uncompressed length; a mismatch after decompression is an
// error. Width and Height are set for image-shaped data; for packed
// mask planes, Height is the plane height times the plane count.
type Container struct {
	Compression CompressionTag `cbor:"compression"`
	RawSize     int64          `cbor:"raw_size"`
	Width       int            `cbor:"width,omitempty"`
	Height      int            `cbor:"height,omitempty"`
	Data        []byte         `cbor:"data"`
}

// errIncompressible is returned internally when compression would not
// shrink the data; Pack falls back to CompressionNone.
var errIncompressible = errors.New("blob: data is incompressible")

// zstdEncoder and zstdDecoder are shared across calls to avoid
// repeated initialization. Both are safe for concurrent use in the
// EncodeAll/DecodeAll mode.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("blob: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blob: zstd decoder initialization failed: " + err.Error())
	}
}

// Pack compresses raw with the requested algorithm and returns a
// Container. If the data does not shrink under the requested
// algorithm, the container silently falls back to CompressionNone —
// the tag in the container records what was actually done.
func Pack(raw []byte, tag CompressionTag, width, height int) (Container, error) {
	container := Container{
		Compression: tag,
		RawSize:     int64(len(raw)),
		Width:       width,
		Height:      height,
	}

	compressed, err := compress(raw, tag)
	if errors.Is(err, errIncompressible) {
		container.Compression = CompressionNone
		container.Data = raw
		return container, nil
	}
	if err != nil {
		return Container{}, err
	}
	container.Data = compressed
	return container, nil
}

// Open decompresses the container's payload and verifies the result
// against RawSize.
func (c Container) Open() ([]byte, error) {
	switch c.Compression {
	case CompressionNone:
		if int64(len(c.Data)) != c.RawSize {
			return nil, fmt.Errorf("blob: uncompressed size %d does not match declared %d", len(c.Data), c.RawSize)
		}
		return c.Data, nil

	case CompressionLZ4:
		destination := make([]byte, c.RawSize)
		read, err := lz4.UncompressBlock(c.Data, destination)
		if err != nil {
			return nil, fmt.Errorf("blob: lz4 decompress: %w", err)
		}
		if int64(read) != c.RawSize {
			return nil, fmt.Errorf("blob: lz4 decompress: got %d bytes, expected %d", read, c.RawSize)
		}
		return destination, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(c.Data, make([]byte, 0, c.RawSize))
		if err != nil {
			return nil, fmt.Errorf("blob: zstd decompress: %w", err)
		}
		if int64(len(result)) != c.RawSize {
			return nil, fmt.Errorf("blob: zstd decompress: got %d bytes, expected %d", len(result), c.RawSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("blob: unsupported compression tag: %d", c.Compression)
	}
}

func compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil

	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("blob: lz4 compress: %w", err)
		}
		// CompressBlock returns 0 when the data is incompressible.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("blob: unsupported compression tag: %d", tag)
	}
}
