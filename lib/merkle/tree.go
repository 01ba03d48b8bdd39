// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
)

// Node is one entry in a tree's node table. Leaf nodes have zero
// Left and Right.
type Node struct {
	Hash  blockhash.Hash `json:"hash"`
	Left  blockhash.Hash `json:"left,omitzero"`
	Right blockhash.Hash `json:"right,omitzero"`
	Leaf  bool           `json:"leaf,omitempty"`
}

// Tree is the Merkle tree of one document version. It is replaced
// wholesale when the document is reprocessed.
type Tree struct {
	Root blockhash.Hash `json:"root"`

	// Leaves are the block hashes in document order. Root is
	// reproducible from Leaves alone.
	Leaves []blockhash.Hash `json:"leaves"`

	// Nodes holds every hash reachable from Root down to the leaves.
	// Identical blocks within a document share one leaf entry.
	Nodes map[blockhash.Hash]Node `json:"-"`

	// Depth is the number of combination levels above the leaves:
	// zero for empty and single-leaf trees.
	Depth int `json:"depth"`

	BlockCount int `json:"block_count"`
}

// FromBlocks builds a tree over the hashes of blocks in order.
func FromBlocks(blocks []block.Block, hasher blockhash.Hasher) Tree {
	return FromHashes(block.Hashes(blocks), hasher)
}

// FromHashes builds a tree over leaves in order. The leaves slice is
// copied.
func FromHashes(leaves []blockhash.Hash, hasher blockhash.Hasher) Tree {
	tree := Tree{
		Leaves:     append([]blockhash.Hash(nil), leaves...),
		Nodes:      make(map[blockhash.Hash]Node, 2*len(leaves)),
		BlockCount: len(leaves),
	}
	if len(leaves) == 0 {
		tree.Root = blockhash.Zero
		return tree
	}

	for _, leaf := range tree.Leaves {
		tree.Nodes[leaf] = Node{Hash: leaf, Leaf: true}
	}

	levels := buildLevels(tree.Leaves, hasher, func(node Node) {
		if _, exists := tree.Nodes[node.Hash]; !exists {
			tree.Nodes[node.Hash] = node
		}
	})
	tree.Depth = len(levels) - 1
	tree.Root = levels[len(levels)-1][0]
	return tree
}

// buildLevels returns every level of the tree, leaves first. record is
// called for each internal node as it is created.
func buildLevels(leaves []blockhash.Hash, hasher blockhash.Hasher, record func(Node)) [][]blockhash.Hash {
	levels := [][]blockhash.Hash{leaves}
	level := leaves
	for len(level) > 1 {
		nextLength := (len(level) + 1) / 2
		next := make([]blockhash.Hash, nextLength)

		for i := 0; i < len(level)-1; i += 2 {
			combined := hasher.HashNodes(level[i], level[i+1])
			next[i/2] = combined
			if record != nil {
				record(Node{Hash: combined, Left: level[i], Right: level[i+1]})
			}
		}

		// Odd node: promote without hashing.
		if len(level)%2 == 1 {
			next[nextLength-1] = level[len(level)-1]
		}

		levels = append(levels, next)
		level = next
	}
	return levels
}

// IsEmpty reports whether the tree has no leaves.
func (t Tree) IsEmpty() bool {
	return len(t.Leaves) == 0
}

// Leaf returns the leaf hash at index and whether index is in range.
func (t Tree) Leaf(index int) (blockhash.Hash, bool) {
	if index < 0 || index >= len(t.Leaves) {
		return blockhash.Hash{}, false
	}
	return t.Leaves[index], true
}

// Stats summarizes a tree's shape.
type Stats struct {
	Root       blockhash.Hash `json:"root"`
	Depth      int            `json:"depth"`
	NodeCount  int            `json:"node_count"`
	LeafCount  int            `json:"leaf_count"`
	BlockCount int            `json:"block_count"`
}

// Stats returns summary statistics. LeafCount counts distinct leaf
// hashes; BlockCount counts leaf positions.
func (t Tree) Stats() Stats {
	leafCount := 0
	for _, node := range t.Nodes {
		if node.Leaf {
			leafCount++
		}
	}
	return Stats{
		Root:       t.Root,
		Depth:      t.Depth,
		NodeCount:  len(t.Nodes),
		LeafCount:  leafCount,
		BlockCount: t.BlockCount,
	}
}
