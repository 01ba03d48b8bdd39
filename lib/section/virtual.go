// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package section

import "github.com/bureau-foundation/kiln/lib/blockhash"

// VirtualSection summarizes SectionCount contiguous sections
// [StartIndex, EndIndex) of a document.
type VirtualSection struct {
	Hash blockhash.Hash `json:"hash"`

	// PrimaryHeading is the first heading in the window with non-empty
	// text, or nil when no section in the window has one.
	PrimaryHeading *Heading `json:"primary_heading,omitempty"`

	MinDepth     int `json:"min_depth"`
	MaxDepth     int `json:"max_depth"`
	SectionCount int `json:"section_count"`
	TotalBlocks  int `json:"total_blocks"`

	// StartIndex and EndIndex are absolute positions in the document's
	// section list.
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`
}

// FromSections summarizes sections, which begin at position
// startIndex of the document's section list. sections must be
// non-empty.
func FromSections(sections []Section, startIndex int, hasher blockhash.Hasher) VirtualSection {
	hashes := make([]blockhash.Hash, len(sections))
	virtual := VirtualSection{
		MinDepth:     sections[0].Depth,
		MaxDepth:     sections[0].Depth,
		SectionCount: len(sections),
		StartIndex:   startIndex,
		EndIndex:     startIndex + len(sections),
	}

	for i, section := range sections {
		hashes[i] = section.Hash()
		virtual.MinDepth = min(virtual.MinDepth, section.Depth)
		virtual.MaxDepth = max(virtual.MaxDepth, section.Depth)
		virtual.TotalBlocks += section.BlockCount
		if virtual.PrimaryHeading == nil && section.Heading != nil && section.Heading.Text != "" {
			heading := *section.Heading
			virtual.PrimaryHeading = &heading
		}
	}

	virtual.Hash = blockhash.CombineMany(hasher, hashes)
	return virtual
}

// Virtualize summarizes sections under config. At or below the
// threshold every section maps to its own VirtualSection, so callers
// handle both cases through one type. Above it, sections are grouped
// in windows of config.GroupSize. A GroupSize below 1 is treated as 1.
func Virtualize(sections []Section, config Config, hasher blockhash.Hasher) []VirtualSection {
	groupSize := config.GroupSize
	if !ShouldVirtualize(len(sections), config) || groupSize < 1 {
		groupSize = 1
	}

	virtual := make([]VirtualSection, 0, (len(sections)+groupSize-1)/groupSize)
	for start := 0; start < len(sections); start += groupSize {
		end := min(start+groupSize, len(sections))
		virtual = append(virtual, FromSections(sections[start:end], start, hasher))
	}
	return virtual
}
