// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest reads block manifests: pre-parsed documents
// authored as JSONC (JSON extended with comments and trailing commas).
// A manifest lets an external parser hand kiln its block boundaries
// directly instead of going through the markdown extractor.
//
//	{
//	  "documents": [
//	    {
//	      "id": "notes/kiln.md",
//	      "blocks": [
//	        {"type": "heading", "level": 1, "content": "# Kiln"},
//	        // start_offset defaults to the running offset.
//	        {"content": "Blocks are hashed."},
//	      ],
//	    },
//	  ],
//	}
//
// The typical flow is [ReadFile] or [Parse], then [Manifest.Validate],
// then [Document.Inputs] for each document.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/kiln/lib/block"
)

// BlockSeparator is the byte gap assumed between consecutive blocks
// whose start_offset is omitted, matching a blank line.
const BlockSeparator = 2

// Manifest is a set of pre-parsed documents.
type Manifest struct {
	Documents []Document `json:"documents"`
}

// Document is one document's blocks in order.
type Document struct {
	ID     string  `json:"id"`
	Blocks []Block `json:"blocks"`
}

// Block is one pre-parsed block. Type defaults to paragraph.
type Block struct {
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
	Level       int    `json:"level,omitempty"`
	StartOffset *int   `json:"start_offset,omitempty"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Manifest.
func Parse(data []byte) (*Manifest, error) {
	stripped := jsonc.ToJSON(data)

	var manifest Manifest
	if err := json.Unmarshal(stripped, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	return &manifest, nil
}

// ReadFile reads and parses a JSONC manifest file.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	manifest, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return manifest, nil
}

// Validate checks document IDs, block types, heading levels, and
// offsets, reporting every problem found.
func (m *Manifest) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(m.Documents))

	for documentIndex, document := range m.Documents {
		if document.ID == "" {
			errs = append(errs, fmt.Errorf("documents[%d]: id is required", documentIndex))
		} else if seen[document.ID] {
			errs = append(errs, fmt.Errorf("documents[%d]: duplicate id %q", documentIndex, document.ID))
		}
		seen[document.ID] = true

		previousEnd := 0
		for blockIndex, entry := range document.Blocks {
			where := fmt.Sprintf("documents[%d].blocks[%d]", documentIndex, blockIndex)

			blockType, err := block.ParseType(entry.Type)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", where, err))
			}
			switch {
			case blockType == block.Heading && (entry.Level < 1 || entry.Level > 6):
				errs = append(errs, fmt.Errorf("%s: heading level %d out of range 1-6", where, entry.Level))
			case blockType != block.Heading && entry.Level != 0:
				errs = append(errs, fmt.Errorf("%s: level set on %s block", where, blockType))
			}

			if entry.StartOffset != nil {
				if *entry.StartOffset < previousEnd {
					errs = append(errs, fmt.Errorf("%s: start_offset %d overlaps previous block ending at %d",
						where, *entry.StartOffset, previousEnd))
				}
				previousEnd = *entry.StartOffset + len(entry.Content)
			} else {
				previousEnd += len(entry.Content)
			}
		}
	}

	return errors.Join(errs...)
}

// Inputs converts the document's blocks to hashing inputs. Omitted
// offsets continue from the previous block plus [BlockSeparator]. Call
// Validate first; unknown types become [block.Other].
func (d Document) Inputs() []block.Input {
	inputs := make([]block.Input, len(d.Blocks))
	offset := 0
	for i, entry := range d.Blocks {
		blockType, err := block.ParseType(entry.Type)
		if err != nil {
			blockType = block.Other
		}
		if entry.StartOffset != nil {
			offset = *entry.StartOffset
		}
		inputs[i] = block.Input{
			Content:        []byte(entry.Content),
			Type:           blockType,
			Level:          entry.Level,
			StartOffset:    offset,
			IsLastInParent: i == len(d.Blocks)-1,
		}
		offset += len(entry.Content) + BlockSeparator
	}
	return inputs
}
