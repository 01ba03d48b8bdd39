// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"fmt"

	"github.com/bureau-foundation/kiln/lib/blockhash"
)

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Sibling blockhash.Hash `json:"sibling"`

	// SiblingOnLeft is true when the sibling is the left operand of
	// the combination at this level.
	SiblingOnLeft bool `json:"sibling_on_left"`
}

// Proof demonstrates that a leaf is at Index in a tree of LeafCount
// leaves. Levels where the path node is promoted contribute no step.
type Proof struct {
	Index     int         `json:"index"`
	LeafCount int         `json:"leaf_count"`
	Steps     []ProofStep `json:"steps"`
}

// Proof builds an inclusion proof for the leaf at index by recomputing
// the tree's levels.
func (t Tree) Proof(hasher blockhash.Hasher, index int) (Proof, error) {
	if index < 0 || index >= len(t.Leaves) {
		return Proof{}, fmt.Errorf("leaf index %d out of range [0, %d)", index, len(t.Leaves))
	}

	levels := buildLevels(t.Leaves, hasher, nil)
	proof := Proof{Index: index, LeafCount: len(t.Leaves)}

	position := index
	for _, level := range levels[:len(levels)-1] {
		switch {
		case position%2 == 1:
			proof.Steps = append(proof.Steps, ProofStep{Sibling: level[position-1], SiblingOnLeft: true})
		case position+1 < len(level):
			proof.Steps = append(proof.Steps, ProofStep{Sibling: level[position+1]})
		}
		position /= 2
	}
	return proof, nil
}

// VerifyProof reports whether proof connects leaf to root.
func VerifyProof(hasher blockhash.Hasher, leaf blockhash.Hash, proof Proof, root blockhash.Hash) bool {
	if proof.Index < 0 || proof.Index >= proof.LeafCount {
		return false
	}

	current := leaf
	position := proof.Index
	width := proof.LeafCount
	steps := proof.Steps

	for width > 1 {
		promoted := position%2 == 0 && position == width-1
		if !promoted {
			if len(steps) == 0 {
				return false
			}
			step := steps[0]
			steps = steps[1:]
			if step.SiblingOnLeft != (position%2 == 1) {
				return false
			}
			if step.SiblingOnLeft {
				current = hasher.HashNodes(step.Sibling, current)
			} else {
				current = hasher.HashNodes(current, step.Sibling)
			}
		}
		position /= 2
		width = (width + 1) / 2
	}

	return len(steps) == 0 && current == root
}
