// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/kiln/cmd/kiln/cli"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/blockstore"
	"github.com/bureau-foundation/kiln/lib/dedup"
)

const sharedParagraph = "Shared paragraph across notes."

// setup isolates configuration, makes a vault directory the working
// directory (and so the document root), and returns it with a database
// path.
func setup(t *testing.T) (vault, database string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("KILN_CONFIG", "")

	vault = t.TempDir()
	writeFile(t, filepath.Join(vault, "a.md"), "# Alpha\n\n"+sharedParagraph+"\n\nOnly alpha.\n")
	writeFile(t, filepath.Join(vault, "b.md"), "# Beta\n\n"+sharedParagraph+"\n\nOnly beta.\n")
	writeFile(t, filepath.Join(vault, "sub", "c.md"), "# Gamma\n\n"+sharedParagraph+"\n")
	writeFile(t, filepath.Join(vault, "notes.txt"), "not markdown\n")
	writeFile(t, filepath.Join(vault, ".obsidian", "hidden.md"), "# Hidden\n")
	t.Chdir(vault)
	return vault, filepath.Join(t.TempDir(), "blocks.db")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	err := Root(&stdout).Execute(context.Background(), args)
	return stdout.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	output, err := run(t, args...)
	if err != nil {
		t.Fatalf("kiln %s: %v", strings.Join(args, " "), err)
	}
	return output
}

func decode[T any](t *testing.T, output string) T {
	t.Helper()
	var value T
	if err := json.Unmarshal([]byte(output), &value); err != nil {
		t.Fatalf("decoding %q: %v", output, err)
	}
	return value
}

func TestIngestAndDuplicates(t *testing.T) {
	vault, database := setup(t)

	results := decode[[]ingestResult](t, mustRun(t, "ingest", "--db", database, "--json", vault))
	if len(results) != 3 {
		t.Fatalf("ingested %d documents, want 3", len(results))
	}
	ids := []string{results[0].DocumentID, results[1].DocumentID, results[2].DocumentID}
	if strings.Join(ids, ",") != "a.md,b.md,sub/c.md" {
		t.Errorf("document IDs = %v", ids)
	}
	for _, result := range results {
		if result.Tree != treeCreated {
			t.Errorf("%s: tree = %s, want %s", result.DocumentID, result.Tree, treeCreated)
		}
	}

	duplicates := decode[[]dedup.DuplicateBlock](t, mustRun(t, "dedup", "duplicates", "--db", database, "--json"))
	if len(duplicates) != 1 {
		t.Fatalf("len(duplicates) = %d, want 1", len(duplicates))
	}
	if duplicates[0].OccurrenceCount != 3 || duplicates[0].ContentPreview != sharedParagraph {
		t.Errorf("duplicate = %+v", duplicates[0])
	}
	if duplicates[0].Hash != blockhash.NewBLAKE3().HashBlock([]byte(sharedParagraph)) {
		t.Errorf("duplicate hash = %s", duplicates[0].Hash)
	}

	text := mustRun(t, "dedup", "duplicates", "--db", database)
	if !strings.Contains(text, sharedParagraph) || !strings.Contains(text, "HASH") {
		t.Errorf("text output:\n%s", text)
	}
}

func TestReingest(t *testing.T) {
	vault, database := setup(t)
	notePath := filepath.Join(vault, "d.md")
	writeFile(t, notePath, "# One\n\nA.\n\n## Two\n\nB.\n\n## Three\n\nC.\n")
	mustRun(t, "ingest", "--db", database, vault)

	results := decode[[]ingestResult](t, mustRun(t, "ingest", "--db", database, "--json", vault))
	for _, result := range results {
		if result.Tree != treeUnchanged {
			t.Errorf("%s: tree = %s, want %s", result.DocumentID, result.Tree, treeUnchanged)
		}
	}

	// Naming a file directly, absolute or relative, reaches the same
	// document as the directory walk.
	for _, path := range []string{filepath.Join(vault, "a.md"), "a.md", "./sub/../a.md"} {
		results = decode[[]ingestResult](t, mustRun(t, "ingest", "--db", database, "--json", path))
		if len(results) != 1 || results[0].DocumentID != "a.md" || results[0].Tree != treeUnchanged {
			t.Errorf("ingest %s: results = %+v, want a.md unchanged", path, results)
		}
	}

	writeFile(t, notePath, "# One\n\nA.\n\n## Two\n\nB, revised.\n\n## Three\n\nC.\n")
	results = decode[[]ingestResult](t, mustRun(t, "ingest", "--db", database, "--json", notePath))
	if len(results) != 1 || results[0].DocumentID != "d.md" || results[0].Tree != treeUpdated {
		t.Fatalf("results = %+v, want d.md updated", results)
	}
	if !slices.Equal(results[0].ChangedSections, []int{1}) {
		t.Errorf("changed sections = %v, want [1]", results[0].ChangedSections)
	}

	writeFile(t, filepath.Join(vault, "a.md"), "# Alpha\n\nIntro.\n\n## Added section\n\nMore.\n")
	results = decode[[]ingestResult](t, mustRun(t, "ingest", "--db", database, "--json", filepath.Join(vault, "a.md")))
	if len(results) != 1 || results[0].Tree != treeReplaced {
		t.Errorf("results = %+v, want one replaced tree", results)
	}

	documents := decode[[]string](t, mustRun(t, "store", "documents", "--db", database, "--json"))
	if strings.Join(documents, ",") != "a.md,b.md,d.md,sub/c.md" {
		t.Errorf("documents = %v", documents)
	}

	output := mustRun(t, "tree", "verify", "--db", database, "--all")
	if strings.Contains(output, "FAIL") || strings.Count(output, "ok ") != 4 {
		t.Errorf("verify output:\n%s", output)
	}
}

func TestIngestDocumentRoot(t *testing.T) {
	vault, database := setup(t)
	t.Chdir(t.TempDir())

	results := decode[[]ingestResult](t, mustRun(t, "ingest", "--db", database, "--json", "--root", vault, filepath.Join(vault, "sub", "c.md")))
	if len(results) != 1 || results[0].DocumentID != "sub/c.md" {
		t.Errorf("results = %+v, want sub/c.md", results)
	}

	results = decode[[]ingestResult](t, mustRun(t, "ingest", "--db", database, "--json", "--root", vault, filepath.Join(vault, "sub")))
	if len(results) != 1 || results[0].DocumentID != "sub/c.md" || results[0].Tree != treeUnchanged {
		t.Errorf("results = %+v, want sub/c.md unchanged", results)
	}

	_, err := run(t, "ingest", "--db", database, filepath.Join(vault, "a.md"))
	if err == nil || !strings.Contains(err.Error(), "outside the document root") {
		t.Errorf("ingest outside root: %v", err)
	}
}

func TestTreeShowAndDelete(t *testing.T) {
	vault, database := setup(t)
	mustRun(t, "ingest", "--db", database, vault)

	stored := decode[blockstore.StoredTree](t, mustRun(t, "tree", "show", "--db", database, "--json", "a.md"))
	if stored.ID != "a.md" || stored.TotalBlocks != 3 || len(stored.Document.Sections) != 1 {
		t.Errorf("stored tree = %s, %d blocks, %d sections", stored.ID, stored.TotalBlocks, len(stored.Document.Sections))
	}

	text := mustRun(t, "tree", "show", "--db", database, "a.md")
	if !strings.Contains(text, "Alpha") || !strings.Contains(text, stored.Root.String()) {
		t.Errorf("tree show output:\n%s", text)
	}

	mustRun(t, "tree", "delete", "--db", database, "a.md")
	_, err := run(t, "tree", "show", "--db", database, "a.md")
	if !errors.Is(err, blockstore.ErrTreeNotFound) {
		t.Errorf("tree show after delete: %v, want ErrTreeNotFound", err)
	}

	trees := decode[[]blockstore.TreeMetadata](t, mustRun(t, "tree", "list", "--db", database, "--json"))
	if len(trees) != 2 {
		t.Errorf("len(trees) = %d, want 2", len(trees))
	}
}

func TestTreeProof(t *testing.T) {
	vault, database := setup(t)
	writeFile(t, filepath.Join(vault, "d.md"), "# One\n\nA.\n\n## Two\n\nB.\n\nC.\n\n## Three\n\nD.\n")
	mustRun(t, "ingest", "--db", database, vault)

	result := decode[proofResult](t, mustRun(t, "tree", "proof", "--db", database, "--json", "d.md", "4"))
	if !result.Verified {
		t.Errorf("proof did not verify: %+v", result)
	}
	if result.Section != 1 {
		t.Errorf("section = %d, want 1", result.Section)
	}
	if want := blockhash.NewBLAKE3().HashBlock([]byte("C.")); result.BlockHash != want {
		t.Errorf("block hash = %s, want %s", result.BlockHash, want)
	}

	if _, err := run(t, "tree", "proof", "--db", database, "d.md", "7"); err == nil {
		t.Error("proof for out-of-range block succeeded")
	}
}

func TestMemoryMode(t *testing.T) {
	vault, _ := setup(t)

	stats := decode[dedup.Stats](t, mustRun(t, "dedup", "stats", "--memory", "--json", "--ingest", vault))
	if stats.TotalUniqueBlocks != 6 || stats.TotalBlockInstances != 8 || stats.DuplicateBlocks != 2 {
		t.Errorf("stats = %d unique, %d instances, %d duplicates; want 6, 8, 2",
			stats.TotalUniqueBlocks, stats.TotalBlockInstances, stats.DuplicateBlocks)
	}

	_, err := run(t, "tree", "list", "--memory")
	if !errors.Is(err, errNeedsDatabase) {
		t.Errorf("tree list --memory: %v, want errNeedsDatabase", err)
	}
}

func TestLookupAndBlocks(t *testing.T) {
	vault, database := setup(t)
	mustRun(t, "ingest", "--db", database, vault)

	hasher := blockhash.NewBLAKE3()
	shared := hasher.HashBlock([]byte(sharedParagraph))
	unknown := hasher.HashBlock([]byte("never stored"))

	results := decode[[]lookupResult](t, mustRun(t, "dedup", "lookup", "--db", database, "--json", shared.String(), unknown.String()))
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Occurrences != 3 || strings.Join(results[0].Documents, ",") != "a.md,b.md,sub/c.md" {
		t.Errorf("shared lookup = %+v", results[0])
	}
	if results[1].Occurrences != 0 || len(results[1].Documents) != 0 {
		t.Errorf("unknown lookup = %+v", results[1])
	}

	if _, err := run(t, "dedup", "lookup", "--db", database, "not-a-hash"); err == nil {
		t.Error("expected error for malformed hash")
	}

	text := mustRun(t, "dedup", "blocks", "--db", database, "b.md")
	if !strings.Contains(text, "Only beta.") || !strings.Contains(text, "heading") {
		t.Errorf("blocks output:\n%s", text)
	}
}

func TestReport(t *testing.T) {
	vault, database := setup(t)
	mustRun(t, "ingest", "--db", database, vault)

	path := filepath.Join(t.TempDir(), "report.csv")
	mustRun(t, "dedup", "report", "--db", database, "--format", "csv", "--output", path)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(content), "section,metric,value") {
		t.Errorf("csv report starts %q", string(content[:min(40, len(content))]))
	}

	markdown := mustRun(t, "dedup", "report", "--db", database, "--format", "markdown", "--title", "Vault audit")
	if !strings.HasPrefix(markdown, "# Vault audit") {
		t.Errorf("markdown report starts %q", markdown[:min(40, len(markdown))])
	}

	if _, err := run(t, "dedup", "report", "--db", database, "--format", "pdf"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestIngestManifest(t *testing.T) {
	_, database := setup(t)
	path := filepath.Join(t.TempDir(), "blocks.jsonc")
	writeFile(t, path, `{
  // pre-parsed by an external tool
  "documents": [
    {"id": "ext/one", "blocks": [
      {"type": "heading", "level": 1, "content": "# One"},
      {"content": "`+sharedParagraph+`"},
    ]},
  ],
}`)

	results := decode[[]ingestResult](t, mustRun(t, "ingest-manifest", "--db", database, "--json", path))
	if len(results) != 1 || results[0].DocumentID != "ext/one" || results[0].Blocks != 2 {
		t.Errorf("results = %+v", results)
	}

	documents := decode[[]string](t, mustRun(t, "store", "documents", "--db", database, "--json"))
	if len(documents) != 1 || documents[0] != "ext/one" {
		t.Errorf("documents = %v", documents)
	}

	mustRun(t, "store", "delete", "--db", database, "ext/one")
	stats := decode[blockstore.Stats](t, mustRun(t, "store", "stats", "--db", database, "--json"))
	if stats.Documents != 0 || stats.Trees != 0 || stats.UniqueBlocks != 0 {
		t.Errorf("stats after delete = %+v", stats)
	}
}

func TestHash(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("KILN_CONFIG", "")
	path := filepath.Join(t.TempDir(), "note.md")
	content := "# Title\n\nBody.\n"
	writeFile(t, path, content)

	outputs := decode[[]hashOutput](t, mustRun(t, "hash", "--json", path))
	if outputs[0].Hash != blockhash.NewBLAKE3().HashBlock([]byte(content)) {
		t.Errorf("blake3 hash = %s", outputs[0].Hash)
	}

	outputs = decode[[]hashOutput](t, mustRun(t, "hash", "--json", "--algorithm", "sha256", "--blocks", path))
	if outputs[0].Algorithm != blockhash.SHA256 || len(outputs[0].Blocks) != 2 {
		t.Errorf("sha256 blocks output = %+v", outputs[0])
	}
	if outputs[0].Blocks[1].Hash != blockhash.NewSHA256().HashBlock([]byte("Body.")) {
		t.Errorf("body block hash = %s", outputs[0].Blocks[1].Hash)
	}

	if _, err := run(t, "hash", "--algorithm", "md5", path); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}

func TestVerifyExitCode(t *testing.T) {
	_, database := setup(t)
	_, err := run(t, "tree", "verify", "--db", database, "missing.md")
	if !errors.Is(err, blockstore.ErrTreeNotFound) {
		t.Errorf("verify missing: %v, want ErrTreeNotFound", err)
	}

	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		t.Error("missing tree reported as verification failure")
	}
}

func TestVersion(t *testing.T) {
	output := mustRun(t, "version")
	if !strings.Contains(output, "Go: ") {
		t.Errorf("version output = %q", output)
	}
}
