// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/kiln/cmd/kiln/cli"
	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/blockstore"
	"github.com/bureau-foundation/kiln/lib/manifest"
	"github.com/bureau-foundation/kiln/lib/mdblocks"
	"github.com/bureau-foundation/kiln/lib/merkle"
	"github.com/bureau-foundation/kiln/lib/section"
)

// Tree write outcomes reported per document.
const (
	treeCreated      = "created"
	treeReplaced     = "replaced"
	treeUpdated      = "updated"
	treeUnchanged    = "unchanged"
	treeNotPersisted = "memory"
)

type ingestResult struct {
	DocumentID      string         `json:"document_id"`
	Blocks          int            `json:"blocks"`
	Rejected        int            `json:"rejected"`
	Sections        int            `json:"sections"`
	VirtualSections int            `json:"virtual_sections"`
	Root            blockhash.Hash `json:"root"`
	Tree            string         `json:"tree"`
	ChangedSections []int          `json:"changed_sections,omitempty"`
}

func ingestCommand(g *globals, stdout io.Writer) *cli.Command {
	var idPrefix string
	return &cli.Command{
		Name:    "ingest",
		Summary: "Hash markdown files and store their blocks and trees",
		Description: `Split markdown files into blocks, hash them, build each document's
section tree, and persist blocks and tree. Directories are walked for
*.md and *.markdown files. Every document ID is the file's path
relative to the document root (--root, then paths.documents, then the
working directory), so a file keeps its ID whether it is named directly
or found by walking a directory. Files outside the root are rejected.

A document whose section count is unchanged since the last ingest has
only its changed sections rewritten.`,
		Usage: "kiln ingest [flags] <file-or-directory>...",
		Examples: []cli.Example{
			{Description: "Ingest a vault", Command: "kiln ingest ~/vault"},
			{Description: "Namespace IDs", Command: "kiln ingest --id-prefix work/ notes/"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
			flagSet.StringVar(&idPrefix, "id-prefix", "", "prefix added to every document ID")
			g.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one file or directory is required")
			}
			env, err := g.open("ingest")
			if err != nil {
				return err
			}
			defer env.Close()

			results, err := env.ingestPaths(ctx, args, idPrefix)
			if err != nil {
				return err
			}
			return writeIngestResults(stdout, g.json, results)
		},
	}
}

func ingestManifestCommand(g *globals, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "ingest-manifest",
		Summary: "Store pre-parsed blocks from a JSONC manifest",
		Description: `Read documents whose block boundaries were produced by another
parser, validate them, and store them exactly as ingest would.`,
		Usage: "kiln ingest-manifest [flags] <manifest.jsonc>...",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ingest-manifest", pflag.ContinueOnError)
			g.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("a manifest path is required")
			}
			env, err := g.open("ingest-manifest")
			if err != nil {
				return err
			}
			defer env.Close()

			var results []ingestResult
			for _, path := range args {
				parsed, err := manifest.ReadFile(path)
				if err != nil {
					return err
				}
				if err := parsed.Validate(); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				for _, document := range parsed.Documents {
					result, err := env.ingestDocument(ctx, document.ID, document.Inputs())
					if err != nil {
						return err
					}
					results = append(results, result)
				}
			}
			return writeIngestResults(stdout, g.json, results)
		},
	}
}

// ingestPaths ingests every markdown file named by or beneath paths.
func (e *environment) ingestPaths(ctx context.Context, paths []string, idPrefix string) ([]ingestResult, error) {
	files, err := collectMarkdown(paths, e.config.Paths.Documents)
	if err != nil {
		return nil, err
	}
	results := make([]ingestResult, 0, len(files))
	for _, file := range files {
		source, err := os.ReadFile(file.path)
		if err != nil {
			return nil, err
		}
		result, err := e.ingestDocument(ctx, idPrefix+file.id, mdblocks.Extract(source))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file.path, err)
		}
		results = append(results, result)
	}
	return results, nil
}

type markdownFile struct {
	path string
	id   string
}

// collectMarkdown lists the markdown files named by or beneath paths,
// each with its ID relative to root. An empty root is the working
// directory.
func collectMarkdown(paths []string, root string) ([]markdownFile, error) {
	if root == "" {
		root = "."
	}
	base, err := canonicalPath(root)
	if err != nil {
		return nil, fmt.Errorf("document root: %w", err)
	}

	var files []markdownFile
	add := func(path string) error {
		id, err := documentID(base, path)
		if err != nil {
			return err
		}
		files = append(files, markdownFile{path: path, id: id})
		return nil
	}

	for _, path := range paths {
		resolved, err := canonicalPath(path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if err := add(resolved); err != nil {
				return nil, err
			}
			continue
		}
		err = filepath.WalkDir(resolved, func(current string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				if current != resolved && strings.HasPrefix(entry.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			switch strings.ToLower(filepath.Ext(current)) {
			case ".md", ".markdown":
				return add(current)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// canonicalPath returns path as an absolute path with symlinks
// resolved, so the same file always yields the same ID.
func canonicalPath(path string) (string, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(absolute)
}

// documentID returns path relative to base in slash form.
func documentID(base, path string) (string, error) {
	relative, err := filepath.Rel(base, path)
	if err != nil {
		return "", err
	}
	if relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the document root %s (set --root or paths.documents)", path, base)
	}
	return filepath.ToSlash(relative), nil
}

// ingestDocument hashes inputs, stores the blocks, and writes the
// document tree when a database is open.
func (e *environment) ingestDocument(ctx context.Context, documentID string, inputs []block.Input) (ingestResult, error) {
	blocks, rejections := block.HashAll(inputs, e.hasher, e.limits)
	for _, rejection := range rejections {
		e.logger.Warn("block rejected",
			"document_id", documentID,
			"index", rejection.Index,
			"error", rejection.Err,
		)
	}

	document := section.Build(blocks, e.hasher, e.sections)
	if err := e.store.StoreDocumentBlocks(ctx, documentID, blocks); err != nil {
		return ingestResult{}, err
	}

	result := ingestResult{
		DocumentID:      documentID,
		Blocks:          len(blocks),
		Rejected:        len(rejections),
		Sections:        len(document.Sections),
		VirtualSections: len(document.Virtual),
		Root:            document.Root,
		Tree:            treeNotPersisted,
	}
	if e.database != nil {
		outcome, changed, err := e.writeTree(ctx, documentID, document)
		if err != nil {
			return ingestResult{}, err
		}
		result.Tree = outcome
		result.ChangedSections = changed
	}

	e.logger.Debug("ingested document",
		"document_id", documentID,
		"blocks", result.Blocks,
		"sections", result.Sections,
		"tree", result.Tree,
	)
	return result, nil
}

// writeTree stores document, rewriting only changed sections when the
// stored tree has the same shape and parameters.
func (e *environment) writeTree(ctx context.Context, documentID string, document section.Document) (string, []int, error) {
	previous, err := e.database.RetrieveTree(ctx, documentID)
	if errors.Is(err, blockstore.ErrTreeNotFound) {
		if err := e.database.StoreTree(ctx, documentID, e.hasher.Algorithm(), e.sections, document); err != nil {
			return "", nil, err
		}
		return treeCreated, nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	sameParameters := previous.Algorithm == e.hasher.Algorithm() && previous.Config == e.sections
	if sameParameters && previous.Root == document.Root && previous.TotalBlocks == document.TotalBlocks {
		return treeUnchanged, nil, nil
	}
	if !sameParameters || len(previous.Document.Sections) != len(document.Sections) {
		if err := e.database.StoreTree(ctx, documentID, e.hasher.Algorithm(), e.sections, document); err != nil {
			return "", nil, err
		}
		return treeReplaced, nil, nil
	}

	// Sections whose root changed, plus sections that moved because an
	// earlier one grew or shrank.
	marked := make(map[int]bool)
	previousRoots := merkle.FromHashes(previous.Document.SectionHashes(), e.hasher)
	currentRoots := merkle.FromHashes(document.SectionHashes(), e.hasher)
	for _, change := range merkle.Compare(previousRoots, currentRoots) {
		if change.Kind == merkle.Modified {
			marked[change.Index] = true
		}
	}
	var changed []int
	for i, current := range document.Sections {
		stored := previous.Document.Sections[i]
		if marked[i] || stored.StartBlock != current.StartBlock || stored.Depth != current.Depth {
			changed = append(changed, i)
		}
	}
	if err := e.database.UpdateTreeIncremental(ctx, documentID, document, changed); err != nil {
		return "", nil, err
	}
	return treeUpdated, changed, nil
}

func writeIngestResults(w io.Writer, asJSON bool, results []ingestResult) error {
	if asJSON {
		return cli.WriteJSON(w, results)
	}
	slices.SortFunc(results, func(a, b ingestResult) int { return strings.Compare(a.DocumentID, b.DocumentID) })
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tBLOCKS\tSECTIONS\tROOT\tTREE")
	for _, result := range results {
		blocks := fmt.Sprint(result.Blocks)
		if result.Rejected > 0 {
			blocks += fmt.Sprintf(" (%d rejected)", result.Rejected)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", result.DocumentID, blocks, result.Sections, shortHash(result.Root), result.Tree)
	}
	return tw.Flush()
}

func shortHash(hash blockhash.Hash) string {
	return hash.String()[:12]
}
