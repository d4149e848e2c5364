// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Frame layout constants. These are on-disk protocol values — changing
// them breaks every existing log file.
const (
	// lengthSize is the uint64 payload-length prefix.
	lengthSize = 8

	// checksumSize is one masked CRC32-C field.
	checksumSize = 4

	// headerSize is the length prefix plus its checksum.
	headerSize = lengthSize + checksumSize

	// maxPayloadSize bounds a single record. A length prefix above
	// this is treated as corruption rather than attempted as an
	// allocation.
	maxPayloadSize = 1 << 30

	// maskDelta offsets rotated checksums (the standard record-log
	// masking constant).
	maskDelta = 0xa282ead8
)

var (
	// ErrNoMore signals a clean end of the readable stream: either
	// true end-of-file or a trailing frame whose bytes are not all
	// present yet. The caller resumes from Offset() on a later pass.
	ErrNoMore = errors.New("recordio: no more complete records")

	// ErrCorrupt signals a checksum mismatch on a frame whose bytes
	// are all present. The reader has not advanced past the frame.
	ErrCorrupt = errors.New("recordio: corrupt record")
)

// castagnoli is the CRC32-C table shared by all readers and writers.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// mask transforms a CRC so that checksumming data that embeds
// checksums stays well distributed.
func mask(checksum uint32) uint32 {
	return ((checksum >> 15) | (checksum << 17)) + maskDelta
}

// unmask inverts mask.
func unmask(masked uint32) uint32 {
	rotated := masked - maskDelta
	return (rotated >> 17) | (rotated << 15)
}

// Reader iterates framed records from a byte offset onward. It owns an
// open file handle; Close releases it. Reader is not safe for
// concurrent use.
type Reader struct {
	file   *os.File
	offset int64
}

// Open positions a reader at the given byte offset of path. The offset
// must be a frame boundary previously reported by Offset() (or zero).
func Open(path string, offset int64) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening record file: %w", err)
	}
	return &Reader{file: file, offset: offset}, nil
}

// Offset returns the byte offset immediately after the last fully
// validated record (or the starting offset if none has been read).
// Always a safe resume point.
func (r *Reader) Offset() int64 { return r.offset }

// Next reads and validates one frame. It returns the payload and the
// offset immediately following the record.
//
// Errors:
//   - ErrNoMore: clean end of stream, or a trailing frame that is not
//     fully written yet. Not a failure.
//   - ErrCorrupt (wrapped): a complete frame failed checksum
//     validation. The reader has not advanced; retrying Next returns
//     the same error until the file changes underneath.
//   - anything else: an I/O failure reading the file.
//
// All reads are positional, so a failed call leaves the reader exactly
// where it was.
func (r *Reader) Next() ([]byte, int64, error) {
	header := make([]byte, headerSize)
	if err := r.readAt(header, r.offset); err != nil {
		return nil, r.offset, err
	}

	length := binary.LittleEndian.Uint64(header[:lengthSize])
	lengthChecksum := binary.LittleEndian.Uint32(header[lengthSize:])
	if unmask(lengthChecksum) != crc32.Checksum(header[:lengthSize], castagnoli) {
		return nil, r.offset, fmt.Errorf("%w: bad length checksum at offset %d", ErrCorrupt, r.offset)
	}
	if length > maxPayloadSize {
		return nil, r.offset, fmt.Errorf("%w: implausible payload length %d at offset %d", ErrCorrupt, length, r.offset)
	}

	body := make([]byte, int(length)+checksumSize)
	if err := r.readAt(body, r.offset+headerSize); err != nil {
		return nil, r.offset, err
	}

	payload := body[:length]
	payloadChecksum := binary.LittleEndian.Uint32(body[length:])
	if unmask(payloadChecksum) != crc32.Checksum(payload, castagnoli) {
		return nil, r.offset, fmt.Errorf("%w: bad payload checksum at offset %d", ErrCorrupt, r.offset)
	}

	r.offset += int64(headerSize) + int64(length) + int64(checksumSize)
	return payload, r.offset, nil
}

// readAt reads exactly len(buf) bytes at the given file offset. Short
// reads become ErrNoMore: the bytes are not on disk yet.
func (r *Reader) readAt(buf []byte, offset int64) error {
	_, err := r.file.ReadAt(buf, offset)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrNoMore
	}
	if err != nil {
		return fmt.Errorf("reading record file: %w", err)
	}
	return nil
}

// Close releases the underlying file handle. Safe to call after any
// error from Next.
func (r *Reader) Close() error {
	return r.file.Close()
}
