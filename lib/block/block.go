// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package block defines the immutable, content-addressed unit of
// document content and the ingestion size limit applied to it.
package block

import (
	"fmt"

	"github.com/bureau-foundation/kiln/lib/blockhash"
)

// Type classifies a block by the markdown construct it came from.
type Type string

const (
	Heading       Type = "heading"
	Paragraph     Type = "paragraph"
	Code          Type = "code"
	List          Type = "list"
	ListItem      Type = "list_item"
	Blockquote    Type = "blockquote"
	Table         Type = "table"
	ThematicBreak Type = "thematic_break"
	HTML          Type = "html"
	Frontmatter   Type = "frontmatter"
	Callout       Type = "callout"
	Other         Type = "other"
)

var knownTypes = map[Type]bool{
	Heading: true, Paragraph: true, Code: true, List: true,
	ListItem: true, Blockquote: true, Table: true, ThematicBreak: true,
	HTML: true, Frontmatter: true, Callout: true, Other: true,
}

// ParseType converts a stored or user-supplied string to a Type. The
// empty string maps to Paragraph.
func ParseType(name string) (Type, error) {
	if name == "" {
		return Paragraph, nil
	}
	if !knownTypes[Type(name)] {
		return "", fmt.Errorf("unknown block type %q", name)
	}
	return Type(name), nil
}

// Block is one hashed unit of document content. A Block is never
// mutated after construction: a content change produces a new Block
// with a new Hash. Content is shared with the caller and must not be
// modified.
type Block struct {
	Hash    blockhash.Hash `json:"hash"`
	Content []byte         `json:"-"`
	Type    Type           `json:"block_type"`

	// Level is the heading level (1-6) for Heading blocks and zero
	// for every other type.
	Level int `json:"level,omitempty"`

	// StartOffset and EndOffset are byte offsets into the source
	// document. EndOffset - StartOffset == len(Content).
	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`

	// Index is the block's position in document order.
	Index int `json:"index"`

	IsLastInParent bool `json:"is_last_in_parent"`
}

// Size returns the content length in bytes.
func (b Block) Size() int {
	return len(b.Content)
}

// FromData hashes content into a Paragraph block at the given index
// and source offset.
func FromData(content []byte, index, offset int, isLast bool, hasher blockhash.Hasher) Block {
	return Block{
		Hash:           hasher.HashBlock(content),
		Content:        content,
		Type:           Paragraph,
		StartOffset:    offset,
		EndOffset:      offset + len(content),
		Index:          index,
		IsLastInParent: isLast,
	}
}

// Input is a parsed but not yet hashed block, as produced by a
// markdown parser or a block manifest.
type Input struct {
	Content        []byte
	Type           Type
	Level          int
	StartOffset    int
	IsLastInParent bool
}

// New hashes a parsed block.
func New(input Input, index int, hasher blockhash.Hasher) Block {
	result := FromData(input.Content, index, input.StartOffset, input.IsLastInParent, hasher)
	if input.Type != "" {
		result.Type = input.Type
	}
	if result.Type == Heading {
		result.Level = input.Level
	}
	return result
}

// Rejection records an input that failed the size limit.
type Rejection struct {
	Index int
	Err   error
}

// HashAll hashes a document's parsed blocks in order. Inputs over the
// limit are rejected individually; the remaining blocks keep their
// original indexes so rejections leave visible gaps.
func HashAll(inputs []Input, hasher blockhash.Hasher, limits Limits) ([]Block, []Rejection) {
	blocks := make([]Block, 0, len(inputs))
	var rejections []Rejection
	for index, input := range inputs {
		if err := limits.Check(input.Content); err != nil {
			rejections = append(rejections, Rejection{Index: index, Err: err})
			continue
		}
		blocks = append(blocks, New(input, index, hasher))
	}
	return blocks, rejections
}

// Hashes returns the hashes of blocks in order.
func Hashes(blocks []Block) []blockhash.Hash {
	hashes := make([]blockhash.Hash, len(blocks))
	for i := range blocks {
		hashes[i] = blocks[i].Hash
	}
	return hashes
}
