// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package section

import (
	"fmt"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/merkle"
)

// Document is the hashed structure of one document version.
type Document struct {
	// Root is the Merkle root over the sections' roots in order.
	Root blockhash.Hash `json:"root"`

	Sections    []Section `json:"sections"`
	TotalBlocks int       `json:"total_blocks"`

	// Virtual is populated only when Virtualized is true.
	Virtual     []VirtualSection `json:"virtual_sections,omitempty"`
	Virtualized bool             `json:"virtualized"`
}

// Build splits blocks into sections and assembles the document
// structure.
func Build(blocks []block.Block, hasher blockhash.Hasher, config Config) Document {
	return FromSectionList(Split(blocks, hasher), hasher, config)
}

// FromSectionList assembles a document from already-built sections.
func FromSectionList(sections []Section, hasher blockhash.Hasher, config Config) Document {
	document := Document{
		Root:     rootOver(sections, hasher),
		Sections: sections,
	}
	for _, section := range sections {
		document.TotalBlocks += section.BlockCount
	}
	if ShouldVirtualize(len(sections), config) {
		document.Virtualized = true
		document.Virtual = Virtualize(sections, config, hasher)
	}
	return document
}

// SectionHashes returns each section's root in order.
func (d Document) SectionHashes() []blockhash.Hash {
	hashes := make([]blockhash.Hash, len(d.Sections))
	for i, section := range d.Sections {
		hashes[i] = section.Hash()
	}
	return hashes
}

// Verify checks every section tree, the document root, the block
// accounting, and, when virtualized, that the virtual sections match a
// recomputation. Tree failures unwrap to *merkle.IntegrityError.
func (d Document) Verify(hasher blockhash.Hasher, config Config) error {
	total := 0
	nextBlock := 0
	for i, section := range d.Sections {
		if err := section.Tree.Verify(hasher); err != nil {
			return fmt.Errorf("section %d: %w", i, err)
		}
		if section.BlockCount != section.Tree.BlockCount {
			return fmt.Errorf("section %d: %w", i, &merkle.IntegrityError{
				Root:   section.Hash(),
				Reason: fmt.Sprintf("section claims %d blocks, tree has %d", section.BlockCount, section.Tree.BlockCount),
			})
		}
		if section.StartBlock != nextBlock {
			return fmt.Errorf("section %d: %w", i, &merkle.IntegrityError{
				Root:   section.Hash(),
				Reason: fmt.Sprintf("starts at block %d, want %d", section.StartBlock, nextBlock),
			})
		}
		nextBlock = section.EndBlock()
		total += section.BlockCount
	}

	computed := rootOver(d.Sections, hasher)
	if computed != d.Root {
		return &merkle.IntegrityError{Root: d.Root, Computed: computed, Reason: "document root mismatch"}
	}
	if total != d.TotalBlocks {
		return &merkle.IntegrityError{
			Root:     d.Root,
			Computed: computed,
			Reason:   fmt.Sprintf("total blocks %d, sections hold %d", d.TotalBlocks, total),
		}
	}

	if !d.Virtualized {
		return nil
	}
	expected := Virtualize(d.Sections, config, hasher)
	if len(expected) != len(d.Virtual) {
		return &merkle.IntegrityError{
			Root:     d.Root,
			Computed: computed,
			Reason:   fmt.Sprintf("%d virtual sections, want %d", len(d.Virtual), len(expected)),
		}
	}
	for i := range expected {
		if field := virtualMismatch(expected[i], d.Virtual[i]); field != "" {
			return &merkle.IntegrityError{
				Root:   d.Root,
				Node:   d.Virtual[i].Hash,
				Reason: fmt.Sprintf("virtual section %d %s mismatch", i, field),
			}
		}
	}
	return nil
}

// virtualMismatch names the first field where stored differs from
// expected, or returns "" when they agree.
func virtualMismatch(expected, stored VirtualSection) string {
	switch {
	case expected.Hash != stored.Hash:
		return "hash"
	case expected.SectionCount != stored.SectionCount:
		return "section count"
	case expected.StartIndex != stored.StartIndex:
		return "start index"
	case expected.EndIndex != stored.EndIndex:
		return "end index"
	case expected.TotalBlocks != stored.TotalBlocks:
		return "total blocks"
	case expected.MinDepth != stored.MinDepth:
		return "min depth"
	case expected.MaxDepth != stored.MaxDepth:
		return "max depth"
	case (expected.PrimaryHeading == nil) != (stored.PrimaryHeading == nil):
		return "primary heading"
	case expected.PrimaryHeading != nil && *expected.PrimaryHeading != *stored.PrimaryHeading:
		return "primary heading"
	}
	return ""
}

func rootOver(sections []Section, hasher blockhash.Hasher) blockhash.Hash {
	hashes := make([]blockhash.Hash, len(sections))
	for i, section := range sections {
		hashes[i] = section.Hash()
	}
	return merkle.FromHashes(hashes, hasher).Root
}
