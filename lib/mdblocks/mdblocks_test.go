// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mdblocks

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"

	"github.com/bureau-foundation/kiln/lib/block"
)

const note = `---
title: Kiln
tags: [storage]
---

# Content addressing

Every block is hashed.
Soft-wrapped lines stay together.

## Example

` + "```go" + `
hash := hasher.HashBlock(content)
` + "```" + `

- first
- second

> [!note] Callout
> Body text.

> Plain quote.

| a | b |
|---|---|
| 1 | 2 |

---

<div>
raw
</div>
`

func TestExtract(t *testing.T) {
	inputs := Extract([]byte(note))

	want := []struct {
		blockType block.Type
		level     int
		content   string
	}{
		{block.Frontmatter, 0, "---\ntitle: Kiln\ntags: [storage]\n---"},
		{block.Heading, 1, "# Content addressing"},
		{block.Paragraph, 0, "Every block is hashed.\nSoft-wrapped lines stay together."},
		{block.Heading, 2, "## Example"},
		{block.Code, 0, "```go\nhash := hasher.HashBlock(content)\n```"},
		{block.List, 0, "- first\n- second"},
		{block.Callout, 0, "> [!note] Callout\n> Body text."},
		{block.Blockquote, 0, "> Plain quote."},
		{block.Table, 0, "| a | b |\n|---|---|\n| 1 | 2 |"},
		{block.ThematicBreak, 0, "---"},
		{block.HTML, 0, "<div>\nraw\n</div>"},
	}

	if len(inputs) != len(want) {
		for i, input := range inputs {
			t.Logf("inputs[%d] = %s %q", i, input.Type, input.Content)
		}
		t.Fatalf("len(inputs) = %d, want %d", len(inputs), len(want))
	}
	for i, expected := range want {
		input := inputs[i]
		if input.Type != expected.blockType {
			t.Errorf("inputs[%d].Type = %s, want %s", i, input.Type, expected.blockType)
		}
		if input.Level != expected.level {
			t.Errorf("inputs[%d].Level = %d, want %d", i, input.Level, expected.level)
		}
		if string(input.Content) != expected.content {
			t.Errorf("inputs[%d].Content = %q, want %q", i, input.Content, expected.content)
		}
		if got := note[input.StartOffset : input.StartOffset+len(input.Content)]; got != string(input.Content) {
			t.Errorf("inputs[%d] offset %d does not locate its content", i, input.StartOffset)
		}
		if input.IsLastInParent != (i == len(want)-1) {
			t.Errorf("inputs[%d].IsLastInParent = %v", i, input.IsLastInParent)
		}
	}
}

func TestExtractEmpty(t *testing.T) {
	for _, source := range []string{"", "\n\n", "   \n"} {
		if inputs := Extract([]byte(source)); len(inputs) != 0 {
			t.Errorf("Extract(%q) = %d blocks, want 0", source, len(inputs))
		}
	}
}

func TestExtractUnterminatedFrontmatter(t *testing.T) {
	// Without a closing delimiter the leading rule is markdown, not
	// frontmatter.
	inputs := Extract([]byte("---\ntitle: open\n"))
	for _, input := range inputs {
		if input.Type == block.Frontmatter {
			t.Fatalf("unterminated frontmatter extracted: %q", input.Content)
		}
	}
}

func TestExtractSetextHeading(t *testing.T) {
	source := "Title\n=====\n\nBody.\n"
	inputs := Extract([]byte(source))
	if len(inputs) != 2 {
		t.Fatalf("len(inputs) = %d, want 2", len(inputs))
	}
	if inputs[0].Type != block.Heading || inputs[0].Level != 1 {
		t.Errorf("inputs[0] = %s level %d, want heading level 1", inputs[0].Type, inputs[0].Level)
	}
	if string(inputs[0].Content) != "Title\n=====" {
		t.Errorf("heading content = %q", inputs[0].Content)
	}
	if string(inputs[1].Content) != "Body." || inputs[1].StartOffset != 13 {
		t.Errorf("inputs[1] = %q at %d", inputs[1].Content, inputs[1].StartOffset)
	}
}

func TestSameTextSameContent(t *testing.T) {
	// A paragraph lifted into another document extracts to identical
	// bytes, so it hashes identically.
	shared := "Shared closing paragraph."
	first := Extract([]byte("# One\n\n" + shared + "\n"))
	second := Extract([]byte("Intro text.\n\n## Two\n\n" + shared))
	if !bytes.Equal(first[len(first)-1].Content, second[len(second)-1].Content) {
		t.Errorf("shared paragraph differs: %q vs %q", first[len(first)-1].Content, second[len(second)-1].Content)
	}
}

func TestExtractProperties(t *testing.T) {
	lines := rapid.SampledFrom([]string{
		"", "# heading", "## sub", "plain text", "- item", "1. step",
		"> quote", "```", "~~~", "---", "***", "| a | b |", "|---|---|",
		"<div>", "</div>", "    indented", "===", "[!note]",
	})
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(lines, 0, 30).Draw(t, "lines")
		var buffer bytes.Buffer
		for _, part := range parts {
			buffer.WriteString(part)
			buffer.WriteByte('\n')
		}
		source := buffer.Bytes()

		inputs := Extract(source)
		previousEnd := 0
		for i, input := range inputs {
			if len(input.Content) == 0 {
				t.Fatalf("inputs[%d] is empty", i)
			}
			if input.StartOffset < previousEnd {
				t.Fatalf("inputs[%d] starts at %d, before previous end %d", i, input.StartOffset, previousEnd)
			}
			end := input.StartOffset + len(input.Content)
			if !bytes.Equal(source[input.StartOffset:end], input.Content) {
				t.Fatalf("inputs[%d] content does not match source at offset %d", i, input.StartOffset)
			}
			if input.IsLastInParent != (i == len(inputs)-1) {
				t.Fatalf("inputs[%d].IsLastInParent = %v", i, input.IsLastInParent)
			}
			previousEnd = end
		}
	})
}
