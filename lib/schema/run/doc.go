// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package run defines the CBOR payload schema for training-run log
// files: the Event payload carried by .evlog event logs and the
// Example payload carried by .records batch files.
//
// These types are the concrete decode capability injected into the
// ingestion core. The core itself (lib/ingest) is format-agnostic and
// depends only on the DecodedValue shapes its loaders produce; this
// package is what turns raw framed payloads into those shapes.
package run
