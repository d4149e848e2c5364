// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package recordio reads and writes framed records in append-only log
// files.
//
// Each record on disk is:
//
//	uint64 little-endian payload length
//	uint32 masked CRC32-C of the length bytes
//	payload
//	uint32 masked CRC32-C of the payload
//
// The checksums use the rotated-and-offset masking scheme common to
// record-log formats, so a checksum of data that itself contains
// checksums stays well distributed.
//
// The Reader is built for tailing a file that another process is still
// writing: a truncated trailing frame is reported as ErrNoMore (the
// data simply is not there yet), while a checksum mismatch on a frame
// whose bytes are all present is reported as ErrCorrupt. The reader
// never advances past a frame it did not fully validate, so the offset
// it reports is always a safe resume point.
package recordio
