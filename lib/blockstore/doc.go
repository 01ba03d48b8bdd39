// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockstore is the SQLite implementation of the dedup.Store
// contract, plus persistence for hashed document trees.
//
// Three groups of tables hold the data:
//
//   - document_blocks has one row per block position in a document.
//     The (block_hash, document_id) index answers every dedup query.
//   - block_content stores each distinct block's bytes once,
//     compressed with lib/compress. Content rows no document references
//     are pruned on write.
//   - trees, tree_sections, and tree_virtual_sections hold a
//     section.Document per tree ID. Each section's Merkle node table is
//     a CBOR payload in a versioned envelope, so a stored tree can be
//     verified without re-reading its blocks.
//
// Writes run in IMMEDIATE transactions and replace a document's rows
// wholesale, so storing the same document twice is idempotent. Reads
// run inside a savepoint and see one snapshot. Hash lists longer than
// the SQLite parameter limit are split into chunks of
// [MaxQueryParameters].
package blockstore
