// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package merkle builds and verifies binary hash trees over the
// ordered blocks of a document.
//
// Construction is bottom-up. Leaves are block hashes in document
// order. Adjacent pairs at each level combine with
// [blockhash.Hasher.HashNodes]. When a level has an odd number of
// nodes, the last node is promoted to the next level unchanged: it is
// NOT paired with a copy of itself. Duplicating the last node would let
// two different leaf sequences ([a, b, c] and [a, b, c, c]) share a
// root.
//
// A tree with no leaves has the root [blockhash.Zero]. Construction
// never fails.
//
// [Tree.Verify] recomputes the tree from its leaves and checks the
// stored root and every stored node against the recomputation. Any
// disagreement is an [*IntegrityError]. Verification never repairs;
// a tree that fails must be rebuilt from its source document. It is
// meant for load and migration paths, not the ingestion hot path.
//
// Beyond construction and verification the package provides inclusion
// proofs ([Tree.Proof], [VerifyProof]) that follow the same promotion
// rule, leaf-level diffs between two versions of a document
// ([Compare]), and summary statistics ([Tree.Stats]).
package merkle
