// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockhash

// CombineMany folds an ordered list of hashes into one aggregate using
// the hasher's node combination, left to right:
//
//	acc = hashes[0]
//	acc = hasher.HashNodes(acc, hashes[i])  for i = 1..n-1
//
// A single hash is returned unchanged. An empty list yields [Zero].
// Swapping any two distinct entries changes the result.
//
// This is a left fold, not a balanced tree: the aggregate over
// [a, b, c, d] is HashNodes(HashNodes(HashNodes(a, b), c), d), which
// differs from the Merkle root over the same four hashes.
func CombineMany(hasher Hasher, hashes []Hash) Hash {
	if len(hashes) == 0 {
		return Zero
	}
	accumulator := hashes[0]
	for _, next := range hashes[1:] {
		accumulator = hasher.HashNodes(accumulator, next)
	}
	return accumulator
}
