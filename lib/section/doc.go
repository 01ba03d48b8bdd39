// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package section groups a document's blocks under their headings and
// bounds the number of live section aggregates for very large
// documents.
//
// [Split] cuts a block sequence at every heading block. Each
// [Section] owns a contiguous, disjoint slice of the document's blocks
// and carries its own Merkle tree over them. Blocks before the first
// heading form a preamble section with no heading and depth zero.
//
// Documents with more sections than a [Config] threshold are
// virtualized: [Virtualize] walks the section list in fixed-size
// positional windows and summarizes each window as a [VirtualSection].
// Grouping is purely positional, so windows tile the list with no gaps
// or overlaps. A virtual section's hash is the left fold of its
// sections' roots ([blockhash.CombineMany]). Virtual sections are
// derived views: they are recomputed whenever the underlying sections
// change and are never ground truth.
//
// [Build] assembles the whole per-document structure: sections, the
// document root (a Merkle tree over section roots), and, when the
// section count exceeds the threshold, the virtual sections.
package section
