// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest is the incremental ingestion core for training-run
// log files.
//
// An Engine owns a set of source loaders (single event logs,
// directories of event logs, record-batch files), polls them on a
// background goroutine as the files grow, and maintains a merged index
// of tags and steps that a UI thread can read concurrently. Heavy
// per-entry work (image decompression) runs on a bounded worker pool
// through cancellable futures, never on the poll goroutine.
//
// The locking discipline is deliberately coarse: one engine mutex
// guards the index and the loader list. All index mutation happens on
// the poll goroutine while holding it; readers take the same mutex
// only long enough to copy out a snapshot. Series entries and futures
// carry their own small locks so consumers never hold the engine
// mutex across their own work.
package ingest
