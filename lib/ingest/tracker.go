// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"container/list"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/runlog/lib/recordio"
)

// decodeCacheSize bounds the per-file cache of decoded records.
// Materialization revisits the same handful of offsets as a viewer
// scrubs through steps, so a small cache absorbs nearly all re-reads.
const decodeCacheSize = 32

// Tracker owns the durable read state for one log file: the committed
// offset up to which every record has been validated and indexed, and
// a small cache of records decoded on demand by materializers. Entries
// hold a Tracker reference instead of re-stating the path so a decode
// long after the poll that created the entry still goes through the
// same cache.
type Tracker struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	offset int64
	cache  map[int64]*list.Element
	order  *list.List // front = most recent
}

type cacheEntry struct {
	offset  int64
	decoded any
}

// NewTracker starts tracking path from offset zero.
func NewTracker(path string, logger *slog.Logger) *Tracker {
	return &Tracker{
		path:   path,
		logger: logger,
		cache:  make(map[int64]*list.Element),
		order:  list.New(),
	}
}

// Path returns the tracked file path.
func (t *Tracker) Path() string { return t.path }

// Offset returns the committed offset: every byte below it has been
// validated and indexed.
func (t *Tracker) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Commit advances the committed offset after a record has been fully
// indexed. An offset below the current commit means the file was
// replaced under us; the decode cache is dropped since its contents
// belong to the old file.
func (t *Tracker) Commit(offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if offset < t.offset {
		t.logger.Error("tracked file offset regressed, dropping decode cache",
			"path", t.path, "committed", t.offset, "new", offset)
		t.cache = make(map[int64]*list.Element)
		t.order.Init()
	}
	t.offset = offset
}

// IsValid reports whether the file still exists and has not shrunk
// below the committed offset. A false return means the source is gone
// or was truncated and the loader should be retired.
func (t *Tracker) IsValid() bool {
	info, err := os.Stat(t.path)
	if err != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return info.Size() >= t.offset
}

// Changed reports whether the file holds bytes beyond the committed
// offset. An aborted cycle leaves the offset behind the size, so the
// pending records are re-attempted next poll even if the file never
// grows again. A same-size rewrite is caught later by checksum
// validation.
func (t *Tracker) Changed() bool {
	info, err := os.Stat(t.path)
	if err != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return info.Size() != t.offset
}

// Size returns the current file size, or zero if the file is gone.
func (t *Tracker) Size() int64 {
	info, err := os.Stat(t.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// LastModified returns the file's mtime, or the zero time if the file
// is gone. Used to order sibling sources oldest-first.
func (t *Tracker) LastModified() time.Time {
	info, err := os.Stat(t.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// NewReader opens a validating reader positioned at the committed
// offset. The caller owns the reader and must close it.
func (t *Tracker) NewReader() (*recordio.Reader, error) {
	return recordio.Open(t.path, t.Offset())
}

// ReadDecoded reads and decodes the single record starting at offset,
// consulting the cache first. decode runs outside the tracker lock so
// concurrent materializations of different offsets do not serialize
// on it; a racing duplicate decode of the same offset is wasted work,
// not an error.
func (t *Tracker) ReadDecoded(offset int64, decode func([]byte) (any, error)) (any, error) {
	t.mu.Lock()
	if elem, ok := t.cache[offset]; ok {
		t.order.MoveToFront(elem)
		decoded := elem.Value.(*cacheEntry).decoded
		t.mu.Unlock()
		return decoded, nil
	}
	t.mu.Unlock()

	reader, err := recordio.Open(t.path, offset)
	if err != nil {
		return nil, fmt.Errorf("open %s at %d: %w", t.path, offset, err)
	}
	payload, _, err := reader.Next()
	reader.Close()
	if err != nil {
		return nil, fmt.Errorf("read record at %s:%d: %w", t.path, offset, err)
	}
	decoded, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode record at %s:%d: %w", t.path, offset, err)
	}

	t.mu.Lock()
	if _, ok := t.cache[offset]; !ok {
		elem := t.order.PushFront(&cacheEntry{offset: offset, decoded: decoded})
		t.cache[offset] = elem
		if t.order.Len() > decodeCacheSize {
			oldest := t.order.Back()
			t.order.Remove(oldest)
			delete(t.cache, oldest.Value.(*cacheEntry).offset)
		}
	}
	t.mu.Unlock()
	return decoded, nil
}
