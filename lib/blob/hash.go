// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of uncompressed blob content.
// Exported blobs are addressed by this hash so identical content
// written at many steps deduplicates to one file.
type Hash [32]byte

// Sum computes the content hash of data.
func Sum(data []byte) Hash {
	return blake3.Sum256(data)
}

// String returns the lowercase hex form of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != len(h)*2 {
		return Hash{}, fmt.Errorf("blob: hash must be %d hex characters, got %d", len(h)*2, len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("blob: invalid hash: %w", err)
	}
	copy(h[:], decoded)
	return h, nil
}
