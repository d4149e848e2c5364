// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides runlog's standard CBOR encoding configuration.
//
// Record payloads in event logs and record-batch files are CBOR. This
// package provides the shared encoding and decoding modes so that the
// writer tools and the ingestion decoders encode identically without
// duplicating configuration. The encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer encoding,
// no indefinite-length items. Same logical data always produces
// identical bytes — which keeps generated fixtures reproducible.
//
// For buffer-oriented operations (framed record payloads):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Payload types carry `cbor` struct tags: they are never serialized as
// JSON.
package codec
