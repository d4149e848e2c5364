// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"log/slog"
	"sync"
)

// Pool runs future work functions on a fixed number of worker
// goroutines. The queue is unbounded; concurrency is bounded by the
// worker count. Stop cancels everything still queued, lets in-flight
// work finish, and waits for the workers to exit.
type Pool struct {
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Future
	closed bool

	workers sync.WaitGroup
}

// NewPool starts a pool with the given worker count. Workers must be
// at least 1.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{logger: logger}
	p.cond = sync.NewCond(&p.mu)
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		f := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		f.run()
	}
}

// enqueue schedules a future. A future handed to a closed pool is
// cancelled immediately rather than silently dropped.
func (p *Pool) enqueue(f *Future) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.Cancel()
		return
	}
	p.queue = append(p.queue, f)
	p.cond.Signal()
	p.mu.Unlock()
}

// Stop drains the pool: queued futures are cancelled, running ones
// complete, and the call returns once all workers have exited. Stop
// is idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.workers.Wait()
		return
	}
	p.closed = true
	pending := p.queue
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, f := range pending {
		f.Cancel()
	}
	if len(pending) > 0 {
		p.logger.Debug("cancelled queued work on pool stop", "count", len(pending))
	}
	p.workers.Wait()
}
