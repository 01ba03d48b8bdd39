// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package section

import (
	"strings"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/merkle"
)

// Heading summarizes the heading that opens a section.
type Heading struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
}

// Section is the blocks under one heading.
type Section struct {
	// Heading is nil for the preamble before the first heading.
	Heading *Heading `json:"heading,omitempty"`

	// Depth is the heading level, or zero for the preamble.
	Depth int `json:"depth"`

	// StartBlock is the position of the section's first block in the
	// document's block sequence.
	StartBlock int `json:"start_block"`
	BlockCount int `json:"block_count"`

	Tree merkle.Tree `json:"tree"`
}

// Hash returns the section's Merkle root.
func (s Section) Hash() blockhash.Hash {
	return s.Tree.Root
}

// EndBlock returns one past the section's last block position.
func (s Section) EndBlock() int {
	return s.StartBlock + s.BlockCount
}

// NewSection builds a section over blocks, which start at position
// startBlock in the document.
func NewSection(heading *Heading, startBlock int, blocks []block.Block, hasher blockhash.Hasher) Section {
	depth := 0
	if heading != nil {
		depth = heading.Level
	}
	return Section{
		Heading:    heading,
		Depth:      depth,
		StartBlock: startBlock,
		BlockCount: len(blocks),
		Tree:       merkle.FromBlocks(blocks, hasher),
	}
}

// Split cuts blocks into sections at every Heading block. The heading
// block is the first block of the section it opens. A document with
// no blocks has no sections.
func Split(blocks []block.Block, hasher blockhash.Hasher) []Section {
	var sections []Section
	start := 0
	var heading *Heading

	flush := func(end int) {
		if end > start {
			sections = append(sections, NewSection(heading, start, blocks[start:end], hasher))
		}
	}

	for i, b := range blocks {
		if b.Type != block.Heading {
			continue
		}
		flush(i)
		start = i
		heading = headingFor(b)
	}
	flush(len(blocks))
	return sections
}

func headingFor(b block.Block) *Heading {
	lines := strings.Split(strings.TrimSpace(string(b.Content)), "\n")
	if len(lines) > 1 && isSetextUnderline(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text := strings.TrimSpace(strings.TrimLeft(strings.Join(lines, " "), "#"))
	level := b.Level
	if level <= 0 {
		level = 1
	}
	return &Heading{Text: text, Level: level}
}

// isSetextUnderline reports whether line is a run of '=' or '-'.
func isSetextUnderline(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	return strings.Trim(line, "=") == "" || strings.Trim(line, "-") == ""
}
