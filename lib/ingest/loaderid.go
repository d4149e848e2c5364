// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"strconv"
	"strings"
)

// LoaderID identifies a loader by its position in the source tree:
// the first element is the top-level source ordinal, each further
// element a child ordinal inside a composite source. IDs are assigned
// from monotonic counters and never reused, so a removed source's ID
// stays dead.
type LoaderID []int

// Child derives the ID for the n-th child of a composite loader.
func (id LoaderID) Child(n int) LoaderID {
	child := make(LoaderID, len(id)+1)
	copy(child, id)
	child[len(id)] = n
	return child
}

// Top returns the top-level ordinal. Scalar series are partitioned by
// top-level source, so sibling event logs inside one directory merge
// into a single line.
func (id LoaderID) Top() int {
	if len(id) == 0 {
		return -1
	}
	return id[0]
}

// Key returns the canonical map key, e.g. "0.2.1".
func (id LoaderID) Key() string {
	parts := make([]string, len(id))
	for i, n := range id {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

func (id LoaderID) String() string { return id.Key() }

// Equal reports element-wise equality.
func (id LoaderID) Equal(other LoaderID) bool {
	if len(id) != len(other) {
		return false
	}
	for i := range id {
		if id[i] != other[i] {
			return false
		}
	}
	return true
}
