// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/kiln/lib/blockhash"
)

// ErrIntegrity matches every [IntegrityError] via errors.Is.
var ErrIntegrity = errors.New("merkle tree integrity check failed")

// IntegrityError reports a tree whose stored hashes disagree with a
// recomputation from its leaves. A tree that produced this error must
// not be trusted until its document is reprocessed.
type IntegrityError struct {
	// Root is the stored root hash.
	Root blockhash.Hash

	// Computed is the root recomputed from the stored leaves.
	Computed blockhash.Hash

	// Node is the offending node hash, or zero when the failure is
	// about the tree as a whole.
	Node blockhash.Hash

	Reason string
}

func (e *IntegrityError) Error() string {
	if !e.Node.IsZero() {
		return fmt.Sprintf("merkle integrity: %s: node %s (root %s)", e.Reason, e.Node, e.Root)
	}
	return fmt.Sprintf("merkle integrity: %s (stored root %s, computed %s)", e.Reason, e.Root, e.Computed)
}

// Is makes errors.Is(err, ErrIntegrity) true for any IntegrityError.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// Verify recomputes the tree from Leaves and checks it against the
// stored Root, BlockCount, Depth, and Nodes. Returns nil or an
// *IntegrityError.
func (t Tree) Verify(hasher blockhash.Hasher) error {
	recomputed := FromHashes(t.Leaves, hasher)

	fail := func(node blockhash.Hash, format string, args ...any) error {
		return &IntegrityError{
			Root:     t.Root,
			Computed: recomputed.Root,
			Node:     node,
			Reason:   fmt.Sprintf(format, args...),
		}
	}

	if recomputed.Root != t.Root {
		return fail(blockhash.Hash{}, "root hash mismatch")
	}
	if t.BlockCount != len(t.Leaves) {
		return fail(blockhash.Hash{}, "block count %d does not match %d leaves", t.BlockCount, len(t.Leaves))
	}
	if t.Depth != recomputed.Depth {
		return fail(blockhash.Hash{}, "depth %d, want %d", t.Depth, recomputed.Depth)
	}

	for hash, node := range t.Nodes {
		if node.Hash != hash {
			return fail(hash, "node table key does not match node hash %s", node.Hash)
		}
		expected, reachable := recomputed.Nodes[hash]
		if !reachable {
			return fail(hash, "not reachable from root")
		}
		if node.Leaf != expected.Leaf {
			return fail(hash, "leaf flag is %v, want %v", node.Leaf, expected.Leaf)
		}
		if node.Leaf {
			continue
		}
		if combined := hasher.HashNodes(node.Left, node.Right); combined != hash {
			return fail(hash, "children combine to %s", combined)
		}
		if _, ok := t.Nodes[node.Left]; !ok {
			return fail(hash, "left child %s missing", node.Left)
		}
		if _, ok := t.Nodes[node.Right]; !ok {
			return fail(hash, "right child %s missing", node.Right)
		}
	}

	for hash := range recomputed.Nodes {
		if _, ok := t.Nodes[hash]; !ok {
			return fail(hash, "missing from node table")
		}
	}

	return nil
}
