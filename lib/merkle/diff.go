// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import "github.com/bureau-foundation/kiln/lib/blockhash"

// ChangeKind classifies a difference between two tree versions.
type ChangeKind string

const (
	Added            ChangeKind = "added"
	Modified         ChangeKind = "modified"
	Deleted          ChangeKind = "deleted"
	StructureChanged ChangeKind = "structure_changed"
)

// Change is one leaf-level difference. For StructureChanged, Index is
// -1 and the hashes are the two roots.
type Change struct {
	Kind    ChangeKind     `json:"kind"`
	Index   int            `json:"index"`
	OldHash blockhash.Hash `json:"old_hash,omitzero"`
	NewHash blockhash.Hash `json:"new_hash,omitzero"`
}

// Compare lists the differences from previous to current. Equal roots
// short-circuit to no changes. Otherwise leaves are compared by
// position: a position present in both with different hashes is
// Modified, a position only in current is Added, a position only in
// previous is Deleted. A change in depth or block count is reported
// first as StructureChanged.
func Compare(previous, current Tree) []Change {
	if previous.Root == current.Root && len(previous.Leaves) == len(current.Leaves) {
		return nil
	}

	var changes []Change
	if previous.Depth != current.Depth || previous.BlockCount != current.BlockCount {
		changes = append(changes, Change{
			Kind:    StructureChanged,
			Index:   -1,
			OldHash: previous.Root,
			NewHash: current.Root,
		})
	}

	shared := min(len(previous.Leaves), len(current.Leaves))
	for i := range shared {
		if previous.Leaves[i] != current.Leaves[i] {
			changes = append(changes, Change{Kind: Modified, Index: i, OldHash: previous.Leaves[i], NewHash: current.Leaves[i]})
		}
	}
	for i := shared; i < len(current.Leaves); i++ {
		changes = append(changes, Change{Kind: Added, Index: i, NewHash: current.Leaves[i]})
	}
	for i := shared; i < len(previous.Leaves); i++ {
		changes = append(changes, Change{Kind: Deleted, Index: i, OldHash: previous.Leaves[i]})
	}
	return changes
}
