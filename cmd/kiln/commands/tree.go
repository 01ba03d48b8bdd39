// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/kiln/cmd/kiln/cli"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/blockstore"
	"github.com/bureau-foundation/kiln/lib/merkle"
)

func treeCommand(g *globals, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "tree",
		Summary: "Inspect and verify stored document trees",
		Subcommands: []*cli.Command{
			treeListCommand(g, stdout),
			treeShowCommand(g, stdout),
			treeVerifyCommand(g, stdout),
			treeProofCommand(g, stdout),
			treeDeleteCommand(g, stdout),
		},
	}
}

func leafFlags(name string, g *globals) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		g.register(flagSet)
		return flagSet
	}
}

func treeListCommand(g *globals, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "List stored trees, most recently updated first",
		Usage:   "kiln tree list [flags]",
		Flags:   leafFlags("list", g),
		Run: func(ctx context.Context, args []string) error {
			env, err := g.open("tree/list")
			if err != nil {
				return err
			}
			defer env.Close()
			database, err := env.requireDatabase()
			if err != nil {
				return err
			}

			trees, err := database.ListTrees(ctx)
			if err != nil {
				return err
			}
			if g.json {
				return cli.WriteJSON(stdout, trees)
			}
			tw := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TREE\tROOT\tSECTIONS\tBLOCKS\tVIRTUAL\tUPDATED")
			for _, tree := range trees {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
					tree.ID, shortHash(tree.Root), tree.SectionCount, tree.TotalBlocks,
					tree.VirtualCount, humanize.Time(tree.UpdatedAt))
			}
			return tw.Flush()
		},
	}
}

func treeShowCommand(g *globals, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "show",
		Summary: "Print a stored tree's sections and virtual sections",
		Usage:   "kiln tree show [flags] <document-id>",
		Flags:   leafFlags("show", g),
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one document ID is required")
			}
			env, err := g.open("tree/show")
			if err != nil {
				return err
			}
			defer env.Close()
			database, err := env.requireDatabase()
			if err != nil {
				return err
			}

			stored, err := database.RetrieveTree(ctx, args[0])
			if err != nil {
				return err
			}
			if g.json {
				return cli.WriteJSON(stdout, stored)
			}
			return writeTree(stdout, stored)
		},
	}
}

func writeTree(w io.Writer, stored *blockstore.StoredTree) error {
	fmt.Fprintf(w, "Tree:        %s\n", stored.ID)
	fmt.Fprintf(w, "Root:        %s\n", stored.Root)
	fmt.Fprintf(w, "Algorithm:   %s\n", stored.Algorithm)
	fmt.Fprintf(w, "Blocks:      %d\n", stored.TotalBlocks)
	fmt.Fprintf(w, "Updated:     %s\n", stored.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tHEADING\tDEPTH\tBLOCKS\tNODES\tHASH")
	for i, sec := range stored.Document.Sections {
		heading := "(preamble)"
		if sec.Heading != nil {
			heading = sec.Heading.Text
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d-%d\t%d\t%s\n",
			i, heading, sec.Depth, sec.StartBlock, sec.EndBlock(), sec.Tree.Stats().NodeCount, shortHash(sec.Hash()))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !stored.Document.Virtualized {
		return nil
	}
	fmt.Fprintf(w, "\nVirtual sections (threshold %d, group size %d):\n",
		stored.Config.Threshold, stored.Config.GroupSize)
	tw = tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPRIMARY\tSECTIONS\tBLOCKS\tDEPTHS\tHASH")
	for i, virtual := range stored.Document.Virtual {
		primary := "(none)"
		if virtual.PrimaryHeading != nil {
			primary = virtual.PrimaryHeading.Text
		}
		fmt.Fprintf(tw, "%d\t%s\t%d-%d\t%d\t%d-%d\t%s\n",
			i, primary, virtual.StartIndex, virtual.EndIndex, virtual.TotalBlocks,
			virtual.MinDepth, virtual.MaxDepth, shortHash(virtual.Hash))
	}
	return tw.Flush()
}

type verifyResult struct {
	DocumentID string         `json:"document_id"`
	Root       blockhash.Hash `json:"root"`
	OK         bool           `json:"ok"`
	Error      string         `json:"error,omitempty"`
}

func treeVerifyCommand(g *globals, stdout io.Writer) *cli.Command {
	var all bool
	return &cli.Command{
		Name:    "verify",
		Summary: "Recompute stored trees and check them against stored blocks",
		Description: `Verify every section tree, the document root, and the virtual
sections of each stored tree, then check that the tree's leaves match
the document's stored block hashes. Exits 1 if any tree fails.`,
		Usage: "kiln tree verify [flags] (--all | <document-id>...)",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.BoolVar(&all, "all", false, "verify every stored tree")
			g.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("name at least one document ID, or pass --all")
			}
			env, err := g.open("tree/verify")
			if err != nil {
				return err
			}
			defer env.Close()
			database, err := env.requireDatabase()
			if err != nil {
				return err
			}

			ids := args
			if all {
				trees, err := database.ListTrees(ctx)
				if err != nil {
					return err
				}
				ids = ids[:0:0]
				for _, tree := range trees {
					ids = append(ids, tree.ID)
				}
			}

			results := make([]verifyResult, 0, len(ids))
			failed := 0
			for _, id := range ids {
				result, err := verifyTree(ctx, database, id)
				if err != nil {
					return err
				}
				if !result.OK {
					failed++
					env.logger.Warn("tree failed verification", "document_id", id, "error", result.Error)
				}
				results = append(results, result)
			}

			if g.json {
				if err := cli.WriteJSON(stdout, results); err != nil {
					return err
				}
			} else {
				for _, result := range results {
					if result.OK {
						fmt.Fprintf(stdout, "ok    %s  %s\n", result.DocumentID, shortHash(result.Root))
					} else {
						fmt.Fprintf(stdout, "FAIL  %s  %s\n", result.DocumentID, result.Error)
					}
				}
			}
			if failed > 0 {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// verifyTree returns a failed result for integrity problems and an
// error only when the tree cannot be read.
func verifyTree(ctx context.Context, database *blockstore.Store, id string) (verifyResult, error) {
	stored, err := database.RetrieveTree(ctx, id)
	if err != nil {
		return verifyResult{}, err
	}
	result := verifyResult{DocumentID: id, Root: stored.Root}

	hasher, err := blockhash.New(stored.Algorithm)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	if err := stored.Document.Verify(hasher, stored.Config); err != nil {
		result.Error = err.Error()
		return result, nil
	}

	records, err := database.BlocksForDocument(ctx, id)
	if err != nil {
		return verifyResult{}, err
	}
	var leaves []blockhash.Hash
	for _, sec := range stored.Document.Sections {
		leaves = append(leaves, sec.Tree.Leaves...)
	}
	if len(leaves) != len(records) {
		result.Error = (&merkle.IntegrityError{
			Root:   stored.Root,
			Reason: fmt.Sprintf("tree has %d leaves, document has %d stored blocks", len(leaves), len(records)),
		}).Error()
		return result, nil
	}
	for i, record := range records {
		if hasher.HashBlock(record.Content) != record.Hash || leaves[i] != record.Hash {
			result.Error = (&merkle.IntegrityError{
				Root:   stored.Root,
				Node:   record.Hash,
				Reason: fmt.Sprintf("block %d does not match its stored content or tree leaf", record.Index),
			}).Error()
			return result, nil
		}
	}

	result.OK = true
	return result, nil
}

// proofResult links one stored block to its document root in two
// steps: block to section root, then section root to document root.
type proofResult struct {
	DocumentID   string         `json:"document_id"`
	Block        int            `json:"block"`
	BlockHash    blockhash.Hash `json:"block_hash"`
	Section      int            `json:"section"`
	SectionRoot  blockhash.Hash `json:"section_root"`
	Root         blockhash.Hash `json:"root"`
	BlockProof   merkle.Proof   `json:"block_proof"`
	SectionProof merkle.Proof   `json:"section_proof"`
	Verified     bool           `json:"verified"`
}

func treeProofCommand(g *globals, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "proof",
		Summary: "Print an inclusion proof for one block of a stored tree",
		Description: `Build the sibling path from a block to its section root and from the
section root to the document root, then check both against the stored
tree. Exits 1 if the proof does not verify.`,
		Usage: "kiln tree proof [flags] <document-id> <block-index>",
		Flags: leafFlags("proof", g),
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("a document ID and a block index are required")
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("block index %q: %w", args[1], err)
			}
			env, err := g.open("tree/proof")
			if err != nil {
				return err
			}
			defer env.Close()
			database, err := env.requireDatabase()
			if err != nil {
				return err
			}

			stored, err := database.RetrieveTree(ctx, args[0])
			if err != nil {
				return err
			}
			result, err := proveBlock(stored, index)
			if err != nil {
				return err
			}

			if g.json {
				if err := cli.WriteJSON(stdout, result); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(stdout, "Block %d:   %s\n", result.Block, result.BlockHash)
				fmt.Fprintf(stdout, "Section %d: %s (%d steps)\n", result.Section, result.SectionRoot, len(result.BlockProof.Steps))
				fmt.Fprintf(stdout, "Root:      %s (%d steps)\n", result.Root, len(result.SectionProof.Steps))
				fmt.Fprintf(stdout, "Verified:  %t\n", result.Verified)
			}
			if !result.Verified {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func proveBlock(stored *blockstore.StoredTree, index int) (proofResult, error) {
	hasher, err := blockhash.New(stored.Algorithm)
	if err != nil {
		return proofResult{}, err
	}
	result := proofResult{DocumentID: stored.ID, Block: index, Root: stored.Root, Section: -1}
	for i, sec := range stored.Document.Sections {
		if index >= sec.StartBlock && index < sec.EndBlock() {
			result.Section = i
			break
		}
	}
	if result.Section < 0 {
		return proofResult{}, fmt.Errorf("block index %d out of range [0, %d)", index, stored.TotalBlocks)
	}

	sec := stored.Document.Sections[result.Section]
	result.SectionRoot = sec.Hash()
	result.BlockHash, _ = sec.Tree.Leaf(index - sec.StartBlock)
	result.BlockProof, err = sec.Tree.Proof(hasher, index-sec.StartBlock)
	if err != nil {
		return proofResult{}, err
	}
	roots := merkle.FromHashes(stored.Document.SectionHashes(), hasher)
	result.SectionProof, err = roots.Proof(hasher, result.Section)
	if err != nil {
		return proofResult{}, err
	}

	result.Verified = merkle.VerifyProof(hasher, result.BlockHash, result.BlockProof, result.SectionRoot) &&
		merkle.VerifyProof(hasher, result.SectionRoot, result.SectionProof, stored.Root)
	return result, nil
}

func treeDeleteCommand(g *globals, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete stored trees (blocks are kept)",
		Usage:   "kiln tree delete [flags] <document-id>...",
		Flags:   leafFlags("delete", g),
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one document ID is required")
			}
			env, err := g.open("tree/delete")
			if err != nil {
				return err
			}
			defer env.Close()
			database, err := env.requireDatabase()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := database.DeleteTree(ctx, id); err != nil {
					return err
				}
				env.logger.Info("deleted tree", "document_id", id)
			}
			return nil
		},
	}
}
