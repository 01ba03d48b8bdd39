// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockhash provides content hashing for kiln blocks and tree
// nodes.
//
// Every block of document content is identified by the digest of its
// raw bytes ([Hasher.HashBlock]). Tree nodes are identified by the
// digest of their two children's canonical hex forms concatenated
// ([Hasher.HashNodes]): left then right, 128 ASCII bytes. Combination
// is therefore itself content-addressed and order-sensitive.
//
// The canonical wire form of a [Hash] is 64 lowercase hex characters.
// Storage rows, reports, logs, and CLI output all use this form.
//
// Three algorithms are available, all producing 32-byte digests:
//
//   - BLAKE3 (default), via github.com/zeebo/blake3
//   - SHA-256, via crypto/sha256
//   - BLAKE2b-256, via golang.org/x/crypto/blake2b
//
// Hashers are injected explicitly wherever hashing happens. There is
// no package-level default instance. A [ContentHasher] carries only an
// atomic operation counter as mutable state and is safe for concurrent
// use without external locking. Hashing cannot fail for any input,
// including empty content.
package blockhash
