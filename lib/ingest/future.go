// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import "sync"

// BlobResultKind classifies what a materialized entry produced.
type BlobResultKind int

const (
	// BlobUnavailable means the entry could not be materialized
	// (missing blob, malformed dimensions). Info may say why.
	BlobUnavailable BlobResultKind = iota
	// BlobRaw is uncompressed pixel data with explicit dimensions.
	BlobRaw
	// BlobCompressed is an encoded image (PNG or similar) the
	// consumer decodes itself.
	BlobCompressed
)

// BlobResult is the outcome of materializing a per-step entry.
type BlobResult struct {
	Kind   BlobResultKind
	Data   []byte
	Width  int
	Height int
	// Color reports three-channel data; false means grayscale.
	// Only meaningful for BlobRaw.
	Color bool
	// Info is a human-readable description shown alongside the blob.
	Info string
}

// Future is a single unit of deferred decode work. It moves through
// at most three states: created, started (queued on the pool), and
// terminal (finished or cancelled). Start and Cancel are idempotent;
// the work function runs at most once and never after Cancel wins.
//
// The future's own mutex is never held while the work function runs,
// so Cancel from another goroutine cannot block behind a decode.
type Future struct {
	pool *Pool
	work func() (BlobResult, error)

	mu        sync.Mutex
	started   bool
	finished  bool
	cancelled bool
	result    BlobResult
	err       error

	done  chan struct{}
	ready chan BlobResult
}

func newFuture(pool *Pool, work func() (BlobResult, error)) *Future {
	return &Future{
		pool:  pool,
		work:  work,
		done:  make(chan struct{}),
		ready: make(chan BlobResult, 1),
	}
}

// Start queues the future on its pool. Calling Start again, or after
// Cancel, is a no-op.
func (f *Future) Start() {
	f.mu.Lock()
	if f.started || f.cancelled {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()
	f.pool.enqueue(f)
}

// Cancel makes the future terminal without a result. Work already in
// flight completes on its worker but the result is discarded and
// Ready never fires.
func (f *Future) Cancel() {
	f.mu.Lock()
	if f.cancelled || f.finished {
		f.mu.Unlock()
		return
	}
	f.cancelled = true
	close(f.done)
	f.mu.Unlock()
}

// run executes the work on a pool worker. The decode happens with the
// mutex released; the terminal transition re-checks cancellation so a
// Cancel that raced the decode wins.
func (f *Future) run() {
	f.mu.Lock()
	if f.cancelled {
		f.mu.Unlock()
		return
	}
	work := f.work
	f.mu.Unlock()

	result, err := work()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		return
	}
	f.result = result
	f.err = err
	f.finished = true
	if err == nil && result.Kind != BlobUnavailable {
		f.ready <- result
	}
	close(f.done)
}

// Done is closed when the future reaches a terminal state, whether
// finished or cancelled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Ready delivers the result exactly once, and only on success with a
// usable blob. Cancelled or unavailable futures never send.
func (f *Future) Ready() <-chan BlobResult { return f.ready }

// Result returns the outcome. ok is false until the future finishes;
// a cancelled future never reports ok.
func (f *Future) Result() (BlobResult, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.finished || f.cancelled {
		return BlobResult{}, nil, false
	}
	return f.result, f.err, true
}

// Terminal reports whether the future can no longer produce a result
// transition: it has either finished or been cancelled.
func (f *Future) Terminal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished || f.cancelled
}
