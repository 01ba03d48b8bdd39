// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Hasher is the capability every tree, section, and ingestion entry
// point takes. Implementations must be safe for concurrent use.
type Hasher interface {
	// HashBlock returns the digest of raw block content.
	HashBlock(data []byte) Hash

	// HashNodes returns the digest of left's hex form followed by
	// right's hex form. HashNodes(a, b) != HashNodes(b, a) for a != b.
	HashNodes(left, right Hash) Hash

	// Algorithm identifies the digest function.
	Algorithm() Algorithm
}

// Algorithm names a supported digest function.
type Algorithm string

const (
	BLAKE3  Algorithm = "blake3"
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b"
)

// DefaultAlgorithm is used when configuration leaves the algorithm
// unset.
const DefaultAlgorithm = BLAKE3

// ParseAlgorithm converts a configuration string to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case BLAKE3, SHA256, BLAKE2b:
		return Algorithm(name), nil
	case "":
		return DefaultAlgorithm, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q (want blake3, sha256, or blake2b)", name)
	}
}

// ContentHasher is the concrete [Hasher] for every supported
// algorithm. The zero value is not usable; construct with [New] or one
// of the algorithm-specific constructors.
type ContentHasher struct {
	algorithm  Algorithm
	sum        func([]byte) Hash
	operations atomic.Uint64
}

// New returns a hasher for the named algorithm.
func New(algorithm Algorithm) (*ContentHasher, error) {
	switch algorithm {
	case BLAKE3, "":
		return NewBLAKE3(), nil
	case SHA256:
		return NewSHA256(), nil
	case BLAKE2b:
		return NewBLAKE2b(), nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
}

// NewBLAKE3 returns a BLAKE3-256 hasher.
func NewBLAKE3() *ContentHasher {
	return &ContentHasher{
		algorithm: BLAKE3,
		sum: func(data []byte) Hash {
			return Hash(blake3.Sum256(data))
		},
	}
}

// NewSHA256 returns a SHA-256 hasher.
func NewSHA256() *ContentHasher {
	return &ContentHasher{
		algorithm: SHA256,
		sum: func(data []byte) Hash {
			return Hash(sha256.Sum256(data))
		},
	}
}

// NewBLAKE2b returns an unkeyed BLAKE2b-256 hasher.
func NewBLAKE2b() *ContentHasher {
	return &ContentHasher{
		algorithm: BLAKE2b,
		sum: func(data []byte) Hash {
			return Hash(blake2b.Sum256(data))
		},
	}
}

// HashBlock returns the digest of data.
func (h *ContentHasher) HashBlock(data []byte) Hash {
	h.operations.Add(1)
	return h.sum(data)
}

// HashNodes returns the digest of the 128-byte ASCII string formed by
// concatenating left's and right's canonical hex forms.
func (h *ContentHasher) HashNodes(left, right Hash) Hash {
	var combined [4 * Size]byte
	hex.Encode(combined[:2*Size], left[:])
	hex.Encode(combined[2*Size:], right[:])
	h.operations.Add(1)
	return h.sum(combined[:])
}

// Algorithm returns the digest function name.
func (h *ContentHasher) Algorithm() Algorithm {
	return h.algorithm
}

// Size returns the digest length in bytes. Always [Size] for the
// shipped algorithms.
func (h *ContentHasher) Size() int {
	return Size
}

// Operations returns how many HashBlock and HashNodes calls this
// hasher has served. Diagnostic only.
func (h *ContentHasher) Operations() uint64 {
	return h.operations.Load()
}
