// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordio

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
)

// Writer appends framed records to a log file. It is the producer side
// of the format — used by the generator tool and by tests. Writer is
// not safe for concurrent use.
type Writer struct {
	file *os.File
}

// Append opens path for appending, creating it if missing.
func Append(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening record file for append: %w", err)
	}
	return &Writer{file: file}, nil
}

// Write appends one framed record containing payload.
func (w *Writer) Write(payload []byte) error {
	frame := Frame(payload)
	if _, err := w.file.Write(frame); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Sync flushes written records to stable storage.
func (w *Writer) Sync() error {
	return w.file.Sync()
}

// Close syncs and releases the file handle.
func (w *Writer) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("syncing record file: %w", err)
	}
	return w.file.Close()
}

// Frame returns the full on-disk frame for payload: length prefix,
// masked length checksum, payload, masked payload checksum. Exposed so
// tests can assemble partial frames byte by byte.
func Frame(payload []byte) []byte {
	frame := make([]byte, headerSize+len(payload)+checksumSize)

	binary.LittleEndian.PutUint64(frame[:lengthSize], uint64(len(payload)))
	lengthChecksum := crc32.Checksum(frame[:lengthSize], castagnoli)
	binary.LittleEndian.PutUint32(frame[lengthSize:headerSize], mask(lengthChecksum))

	copy(frame[headerSize:], payload)
	payloadChecksum := crc32.Checksum(payload, castagnoli)
	binary.LittleEndian.PutUint32(frame[headerSize+len(payload):], mask(payloadChecksum))

	return frame
}
