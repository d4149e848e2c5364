// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for runlog
// binaries. It centralizes fatal error reporting to stderr for errors
// surfaced from run() in main(), where the structured logger may not
// be initialized yet.
package process
