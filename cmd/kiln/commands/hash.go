// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/kiln/cmd/kiln/cli"
	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/mdblocks"
	"github.com/bureau-foundation/kiln/lib/section"
)

type hashedBlock struct {
	Index int            `json:"index"`
	Type  block.Type     `json:"block_type"`
	Hash  blockhash.Hash `json:"hash"`
	Size  int            `json:"size"`
}

type hashOutput struct {
	Name      string              `json:"name"`
	Algorithm blockhash.Algorithm `json:"algorithm"`
	Hash      blockhash.Hash      `json:"hash"`
	Blocks    []hashedBlock       `json:"blocks,omitempty"`
}

func hashCommand(g *globals, stdout io.Writer) *cli.Command {
	var algorithm string
	var blocks bool
	return &cli.Command{
		Name:    "hash",
		Summary: "Print content hashes without storing anything",
		Description: `Hash each file (or stdin for "-") as a single block. With --blocks,
split markdown into blocks, print each block's hash, and print the
document root in place of the whole-file hash.`,
		Usage: "kiln hash [flags] <file|->...",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("hash", pflag.ContinueOnError)
			flagSet.StringVarP(&algorithm, "algorithm", "a", "", "blake3, sha256, or blake2b (default: hashing.algorithm)")
			flagSet.BoolVar(&blocks, "blocks", false, "hash markdown blocks and the document root")
			g.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one file (or - for stdin) is required")
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if algorithm != "" {
				cfg.Hashing.Algorithm = algorithm
			}
			hasher, err := cfg.Hasher()
			if err != nil {
				return err
			}
			sections, err := cfg.SectionConfig()
			if err != nil {
				return err
			}

			outputs := make([]hashOutput, 0, len(args))
			for _, name := range args {
				content, err := readInput(name)
				if err != nil {
					return err
				}
				output := hashOutput{Name: name, Algorithm: hasher.Algorithm()}
				if !blocks {
					output.Hash = hasher.HashBlock(content)
				} else {
					hashed, _ := block.HashAll(mdblocks.Extract(content), hasher, block.Limits{})
					output.Hash = section.Build(hashed, hasher, sections).Root
					for _, b := range hashed {
						output.Blocks = append(output.Blocks, hashedBlock{Index: b.Index, Type: b.Type, Hash: b.Hash, Size: b.Size()})
					}
				}
				outputs = append(outputs, output)
			}

			if g.json {
				return cli.WriteJSON(stdout, outputs)
			}
			for _, output := range outputs {
				fmt.Fprintf(stdout, "%s  %s\n", output.Hash, output.Name)
				if len(output.Blocks) == 0 {
					continue
				}
				tw := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
				for _, b := range output.Blocks {
					fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\n", b.Index, b.Type, b.Hash, b.Size)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}
