// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"pgregory.net/rapid"
)

func leafHashes(hasher blockhash.Hasher, words ...string) []blockhash.Hash {
	hashes := make([]blockhash.Hash, len(words))
	for i, word := range words {
		hashes[i] = hasher.HashBlock([]byte(word))
	}
	return hashes
}

func TestRootKnownAnswers(t *testing.T) {
	hasher := blockhash.NewBLAKE3()
	leaves := leafHashes(hasher, "alpha", "beta", "gamma", "delta", "epsilon")

	tests := []struct {
		count int
		want  string
	}{
		{2, "deb9ca9ce36d895b70d12356f36562877b7ae4a220bfda5e9544528d99964ede"},
		{3, "f5f46fba4a6c45d3f7cf516daaf14a330af078ed4cf2e33be5c70fd869d3c85a"},
		{4, "b220f45e34a8b49b1d3ed721cc66060b39205fca9f0132ad46f3bb1b51530606"},
		{5, "d2cea069bbe689d923dfb475d683acb2d4246e2572eef55cffc1c09b5f1c4dd7"},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d leaves", test.count), func(t *testing.T) {
			tree := FromHashes(leaves[:test.count], hasher)
			if got := tree.Root.String(); got != test.want {
				t.Errorf("Root = %s, want %s", got, test.want)
			}
		})
	}
}

func TestOddNodePromotedUnchanged(t *testing.T) {
	hasher := blockhash.NewSHA256()
	leaves := leafHashes(hasher, "a", "b", "c")

	tree := FromHashes(leaves, hasher)

	// Level 1 is [H(a,b), c]; c is carried forward without hashing.
	want := hasher.HashNodes(hasher.HashNodes(leaves[0], leaves[1]), leaves[2])
	if tree.Root != want {
		t.Errorf("Root = %s, want %s", tree.Root, want)
	}

	duplicated := FromHashes(append(leaves, leaves[2]), hasher)
	if duplicated.Root == tree.Root {
		t.Error("[a, b, c] and [a, b, c, c] share a root: odd node was duplicated")
	}

	if _, isNode := tree.Nodes[hasher.HashNodes(leaves[2], leaves[2])]; isNode {
		t.Error("node table contains H(c, c)")
	}
}

func TestEmptyTree(t *testing.T) {
	tree := FromBlocks(nil, blockhash.NewBLAKE3())
	if tree.Root != blockhash.Zero {
		t.Errorf("Root = %s, want zero sentinel", tree.Root)
	}
	if tree.BlockCount != 0 || tree.Depth != 0 || len(tree.Nodes) != 0 {
		t.Errorf("empty tree = %+v", tree)
	}
	if !tree.IsEmpty() {
		t.Error("IsEmpty() = false")
	}
	if err := tree.Verify(blockhash.NewBLAKE3()); err != nil {
		t.Errorf("Verify(empty): %v", err)
	}
}

func TestSingleLeaf(t *testing.T) {
	hasher := blockhash.NewBLAKE3()
	b := block.FromData([]byte("only block"), 0, 0, true, hasher)
	tree := FromBlocks([]block.Block{b}, hasher)

	if tree.Root != b.Hash {
		t.Errorf("Root = %s, want the leaf %s", tree.Root, b.Hash)
	}
	if tree.Depth != 0 || tree.BlockCount != 1 {
		t.Errorf("Depth = %d, BlockCount = %d", tree.Depth, tree.BlockCount)
	}
}

func TestDepth(t *testing.T) {
	hasher := blockhash.NewBLAKE3()
	tests := []struct{ leaves, depth int }{
		{1, 0}, {2, 1}, {3, 2}, {4, 2}, {5, 3}, {8, 3}, {9, 4},
	}
	for _, test := range tests {
		words := make([]string, test.leaves)
		for i := range words {
			words[i] = fmt.Sprintf("block %d", i)
		}
		tree := FromHashes(leafHashes(hasher, words...), hasher)
		if tree.Depth != test.depth {
			t.Errorf("%d leaves: Depth = %d, want %d", test.leaves, tree.Depth, test.depth)
		}
	}
}

func TestFromHashesCopiesLeaves(t *testing.T) {
	hasher := blockhash.NewBLAKE3()
	leaves := leafHashes(hasher, "x", "y")
	tree := FromHashes(leaves, hasher)
	leaves[0] = blockhash.Zero
	if tree.Leaves[0] == blockhash.Zero {
		t.Error("tree shares the caller's leaf slice")
	}
}

func TestStats(t *testing.T) {
	hasher := blockhash.NewBLAKE3()
	// "dup" appears twice: two leaf positions, one leaf node.
	tree := FromHashes(leafHashes(hasher, "dup", "other", "dup"), hasher)
	stats := tree.Stats()

	if stats.BlockCount != 3 || stats.LeafCount != 2 {
		t.Errorf("BlockCount = %d, LeafCount = %d, want 3, 2", stats.BlockCount, stats.LeafCount)
	}
	// Leaves dup and other, H(dup, other), and the root.
	if stats.NodeCount != 4 {
		t.Errorf("NodeCount = %d, want 4", stats.NodeCount)
	}
	if stats.Root != tree.Root || stats.Depth != 2 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestBuildThenVerifyProperty(t *testing.T) {
	hasher := blockhash.NewBLAKE3()
	rapid.Check(t, func(t *rapid.T) {
		contents := rapid.SliceOfN(rapid.SliceOf(rapid.Byte()), 1, 64).Draw(t, "contents")
		blocks := make([]block.Block, len(contents))
		offset := 0
		for i, content := range contents {
			blocks[i] = block.FromData(content, i, offset, i == len(contents)-1, hasher)
			offset += len(content)
		}

		tree := FromBlocks(blocks, hasher)
		if err := tree.Verify(hasher); err != nil {
			t.Fatalf("Verify after build: %v", err)
		}

		index := rapid.IntRange(0, len(contents)-1).Draw(t, "index")
		mutated := tree
		mutated.Leaves = append([]blockhash.Hash(nil), tree.Leaves...)
		mutated.Leaves[index] = hasher.HashBlock(append([]byte("mutated:"), contents[index]...))
		err := mutated.Verify(hasher)
		if !errors.Is(err, ErrIntegrity) {
			t.Fatalf("Verify after mutating leaf %d = %v, want integrity error", index, err)
		}
	})
}
