// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mdblocks splits a markdown document into top-level blocks
// ready for hashing. Each block's content is the exact source bytes
// of the construct, markers included ("## ", "> ", fences), so the
// same text always hashes the same regardless of where it appears.
//
// Parsing uses goldmark with the GFM extensions. Goldmark does not
// record source positions for every node, so block boundaries are
// derived from the first source line a node touches: a block runs
// from its first line to the start of the next block, less trailing
// whitespace. YAML frontmatter at the top of the document becomes a
// single [block.Frontmatter] block, and blockquotes opening with an
// Obsidian-style "[!type]" marker become [block.Callout] blocks.
package mdblocks

import (
	"bytes"
	"regexp"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/bureau-foundation/kiln/lib/block"
)

var (
	parserInstance goldmark.Markdown
	parserOnce     sync.Once
)

func markdownParser() goldmark.Markdown {
	parserOnce.Do(func() {
		parserInstance = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return parserInstance
}

var calloutPattern = regexp.MustCompile(`^ {0,3}> ?\[![A-Za-z0-9_-]+\]`)

// Extract returns the top-level blocks of source in document order.
// The last block is marked IsLastInParent. An empty or blank document
// yields no blocks.
func Extract(source []byte) []block.Input {
	var inputs []block.Input

	bodyStart := frontmatterEnd(source)
	if bodyStart > 0 {
		inputs = append(inputs, block.Input{
			Content:     trimTrailingSpace(source[:bodyStart]),
			Type:        block.Frontmatter,
			StartOffset: 0,
		})
	}

	document := markdownParser().Parser().Parse(text.NewReader(source[bodyStart:]))
	inputs = append(inputs, extractBody(source, bodyStart, document)...)

	if len(inputs) > 0 {
		inputs[len(inputs)-1].IsLastInParent = true
	}
	return inputs
}

// located is a top-level node with its resolved start offset.
type located struct {
	node  ast.Node
	start int
}

func extractBody(source []byte, base int, document ast.Node) []block.Input {
	body := source[base:]

	var nodes []located
	cursor := 0
	for child := document.FirstChild(); child != nil; child = child.NextSibling() {
		start, knownEnd, ok := nodeBounds(body, child)
		if !ok || start < cursor {
			start = skipBlankLines(body, cursor)
			knownEnd = lineEnd(body, start)
		}
		if _, isHeading := child.(*ast.Heading); isHeading {
			knownEnd = setextEnd(body, start, knownEnd)
		}
		nodes = append(nodes, located{node: child, start: start})
		cursor = min(len(body), knownEnd+1)
	}

	inputs := make([]block.Input, 0, len(nodes))
	for i, entry := range nodes {
		end := len(body)
		if i+1 < len(nodes) {
			end = nodes[i+1].start
		}
		content := trimTrailingSpace(body[entry.start:max(entry.start, end)])
		if len(content) == 0 {
			continue
		}
		input := block.Input{
			Content:     content,
			Type:        classify(entry.node, content),
			StartOffset: base + entry.start,
		}
		if heading, ok := entry.node.(*ast.Heading); ok {
			input.Level = heading.Level
		}
		inputs = append(inputs, input)
	}
	return inputs
}

func classify(node ast.Node, content []byte) block.Type {
	switch node.(type) {
	case *ast.Heading:
		return block.Heading
	case *ast.Paragraph, *ast.TextBlock:
		return block.Paragraph
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return block.Code
	case *ast.List:
		return block.List
	case *ast.ListItem:
		return block.ListItem
	case *ast.Blockquote:
		if calloutPattern.Match(content) {
			return block.Callout
		}
		return block.Blockquote
	case *extast.Table:
		return block.Table
	case *ast.ThematicBreak:
		return block.ThematicBreak
	case *ast.HTMLBlock:
		return block.HTML
	default:
		return block.Other
	}
}

// nodeBounds returns the start of the first source line node touches
// and the end of the last, when node carries any source positions.
func nodeBounds(source []byte, node ast.Node) (start, end int, ok bool) {
	if fenced, isFenced := node.(*ast.FencedCodeBlock); isFenced {
		return fencedBounds(source, fenced)
	}

	low, high := -1, -1
	include := func(segment text.Segment) {
		if segment.Stop <= segment.Start {
			return
		}
		if low < 0 || segment.Start < low {
			low = segment.Start
		}
		if segment.Stop > high {
			high = segment.Stop
		}
	}
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if n.Type() == ast.TypeBlock {
			lines := n.Lines()
			for i := range lines.Len() {
				include(lines.At(i))
			}
		}
		if textNode, isText := n.(*ast.Text); isText {
			include(textNode.Segment)
		}
		if fenced, isFenced := n.(*ast.FencedCodeBlock); isFenced && n != node {
			if _, fencedEnd, fencedOK := fencedBounds(source, fenced); fencedOK && fencedEnd > high {
				high = fencedEnd
			}
		}
		return ast.WalkContinue, nil
	})
	if low < 0 {
		return 0, 0, false
	}
	return lineStart(source, low), lineEnd(source, high-1), true
}

// fencedBounds covers the opening and closing fence lines, which
// goldmark excludes from the block's lines.
func fencedBounds(source []byte, fenced *ast.FencedCodeBlock) (start, end int, ok bool) {
	lines := fenced.Lines()
	switch {
	case fenced.Info != nil:
		start = lineStart(source, fenced.Info.Segment.Start)
	case lines.Len() > 0:
		first := lineStart(source, lines.At(0).Start)
		if first == 0 {
			return 0, 0, false
		}
		start = lineStart(source, first-1)
	default:
		return 0, 0, false
	}

	end = lineEnd(source, start)
	if lines.Len() > 0 {
		last := lines.At(lines.Len() - 1)
		end = lineEnd(source, max(last.Start, last.Stop-1))
	}
	if end < len(source) {
		next := end + 1
		if isFence(source[next:lineEnd(source, next)]) {
			end = lineEnd(source, next)
		}
	}
	return start, end, true
}

// setextEnd extends a heading's end over its "===" or "---" underline
// when the heading has no leading '#'.
func setextEnd(source []byte, start, end int) int {
	if bytes.HasPrefix(bytes.TrimLeft(source[start:end], " "), []byte("#")) || end >= len(source) {
		return end
	}
	next := end + 1
	underline := bytes.TrimSpace(source[next:lineEnd(source, next)])
	if len(underline) > 0 && (len(bytes.Trim(underline, "=")) == 0 || len(bytes.Trim(underline, "-")) == 0) {
		return lineEnd(source, next)
	}
	return end
}

func isFence(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	return bytes.HasPrefix(trimmed, []byte("```")) || bytes.HasPrefix(trimmed, []byte("~~~"))
}

// frontmatterEnd returns the offset just past a leading "---" YAML
// block's closing delimiter line, or zero when there is none.
func frontmatterEnd(source []byte) int {
	firstEnd := lineEnd(source, 0)
	if string(bytes.TrimRight(source[:firstEnd], "\r")) != "---" {
		return 0
	}
	position := firstEnd + 1
	for position < len(source) {
		end := lineEnd(source, position)
		line := string(bytes.TrimRight(source[position:end], " \t\r"))
		if line == "---" || line == "..." {
			return min(len(source), end+1)
		}
		position = end + 1
	}
	return 0
}

func lineStart(source []byte, position int) int {
	position = min(position, len(source))
	for position > 0 && source[position-1] != '\n' {
		position--
	}
	return position
}

// lineEnd returns the offset of the newline ending position's line,
// or len(source).
func lineEnd(source []byte, position int) int {
	if position >= len(source) {
		return len(source)
	}
	if index := bytes.IndexByte(source[position:], '\n'); index >= 0 {
		return position + index
	}
	return len(source)
}

func skipBlankLines(source []byte, position int) int {
	for position < len(source) {
		end := lineEnd(source, position)
		if len(bytes.TrimSpace(source[position:end])) != 0 {
			return position
		}
		position = end + 1
	}
	return len(source)
}

func trimTrailingSpace(content []byte) []byte {
	return bytes.TrimRight(content, " \t\r\n")
}
