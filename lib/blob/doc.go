// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob packages heavy record values (encoded images, packed
// segmentation masks) for storage inside framed records.
//
// A Container pairs the payload bytes with a one-byte compression tag
// (none, lz4, or zstd) and the original size, plus optional pixel
// dimensions for image-shaped data. Containers are embedded in record
// payload schemas as CBOR; the ingestion core never opens them during
// a poll pass — they are decompressed lazily on the decode worker
// pool.
//
// The package also provides BLAKE3 content hashing used to address
// exported blobs on disk.
package blob
