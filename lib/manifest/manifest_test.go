// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/kiln/lib/block"
)

const sample = `{
  // Two notes sharing a paragraph.
  "documents": [
    {
      "id": "notes/a.md",
      "blocks": [
        {"type": "heading", "level": 1, "content": "# A"},
        {"content": "Shared paragraph."},
        /* explicit offset */
        {"type": "code", "content": "x := 1", "start_offset": 40},
      ],
    },
    {
      "id": "notes/b.md",
      "blocks": [
        {"content": "Shared paragraph."},
      ],
    },
  ],
}`

func TestParse(t *testing.T) {
	manifest, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := manifest.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(manifest.Documents) != 2 {
		t.Fatalf("len(Documents) = %d, want 2", len(manifest.Documents))
	}

	inputs := manifest.Documents[0].Inputs()
	if len(inputs) != 3 {
		t.Fatalf("len(inputs) = %d, want 3", len(inputs))
	}

	tests := []struct {
		blockType block.Type
		level     int
		offset    int
		content   string
		last      bool
	}{
		{block.Heading, 1, 0, "# A", false},
		{block.Paragraph, 0, 5, "Shared paragraph.", false},
		{block.Code, 0, 40, "x := 1", true},
	}
	for i, want := range tests {
		got := inputs[i]
		if got.Type != want.blockType || got.Level != want.level {
			t.Errorf("inputs[%d] = %s level %d, want %s level %d", i, got.Type, got.Level, want.blockType, want.level)
		}
		if got.StartOffset != want.offset {
			t.Errorf("inputs[%d].StartOffset = %d, want %d", i, got.StartOffset, want.offset)
		}
		if string(got.Content) != want.content {
			t.Errorf("inputs[%d].Content = %q, want %q", i, got.Content, want.content)
		}
		if got.IsLastInParent != want.last {
			t.Errorf("inputs[%d].IsLastInParent = %v, want %v", i, got.IsLastInParent, want.last)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte(`{"documents": [`)); err == nil {
		t.Error("expected error for truncated manifest")
	}
}

func TestValidate(t *testing.T) {
	offset := 0
	manifest := &Manifest{Documents: []Document{
		{ID: "", Blocks: []Block{{Content: "x"}}},
		{ID: "dup", Blocks: []Block{{Type: "heading", Content: "# no level"}}},
		{ID: "dup", Blocks: []Block{{Type: "sidebar", Content: "?"}}},
		{ID: "levels", Blocks: []Block{{Type: "paragraph", Level: 2, Content: "p"}}},
		{ID: "overlap", Blocks: []Block{{Content: "first block"}, {Content: "second", StartOffset: &offset}}},
	}}

	err := manifest.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, fragment := range []string{
		"documents[0]: id is required",
		"documents[1].blocks[0]: heading level 0",
		`documents[2]: duplicate id "dup"`,
		`unknown block type "sidebar"`,
		"documents[3].blocks[0]: level set on paragraph block",
		"documents[4].blocks[1]: start_offset 0 overlaps",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("missing %q in:\n%v", fragment, err)
		}
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.jsonc")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	manifest, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if manifest.Documents[1].ID != "notes/b.md" {
		t.Errorf("Documents[1].ID = %q", manifest.Documents[1].ID)
	}

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.jsonc"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadFile(missing) = %v, want not-exist", err)
	}
}
