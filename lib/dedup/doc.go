// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dedup answers cross-document duplication questions over a
// persisted block index: which documents share a block, which blocks
// appear in at least N documents, and how much storage
// content-addressing saves across the corpus.
//
// The [Detector] reads through a [Store], the minimal contract a
// backing store must satisfy. lib/blockstore (SQLite) and lib/memstore
// (in-process) implement it. An occurrence is a distinct document: a
// block repeated three times inside one document counts once.
//
// Unknown hashes and documents are never errors. Single-item queries
// return empty results, and the batch variants
// ([Detector.FindDocumentsWithBlocks], [Detector.BlocksByHashes],
// [Detector.BlockDeduplicationStats]) are total functions over any
// input set: each answers exactly what the single-item query would
// for every element, in one round trip to the store. Empty input
// returns an empty map without touching the store.
//
// Failures from the store are wrapped in [*StoreError] and returned as
// is: never retried, never swallowed.
//
// # Size figures are estimates
//
// Storage figures multiply block counts by an average block size. The
// average is a configured constant (1 KiB by default) unless size
// sampling is enabled and the store implements [SizeSampler], in which
// case it is the mean stored content size. Either way the figures are
// approximations for capacity planning, not a byte-exact audit; every
// [Stats] and [StorageUsage] value carries the size source so
// presentation layers can say so. The [Analyzer] holds this
// interpretation separately from the counting so a byte-exact sizing
// strategy can replace it without touching the detector's queries.
package dedup
