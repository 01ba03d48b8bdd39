// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/kiln/cmd/kiln/cli"
)

func storeCommand(g *globals, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "store",
		Summary: "Inspect and maintain the block database",
		Subcommands: []*cli.Command{
			{
				Name:    "stats",
				Summary: "Row counts and content sizes",
				Usage:   "kiln store stats [flags]",
				Flags:   leafFlags("stats", g),
				Run: func(ctx context.Context, args []string) error {
					env, err := g.open("store/stats")
					if err != nil {
						return err
					}
					defer env.Close()
					database, err := env.requireDatabase()
					if err != nil {
						return err
					}
					stats, err := database.Stats(ctx)
					if err != nil {
						return err
					}
					if g.json {
						return cli.WriteJSON(stdout, stats)
					}
					fmt.Fprintf(stdout, "Database:      %s\n", env.config.Storage.Path)
					fmt.Fprintf(stdout, "Documents:     %s\n", humanize.Comma(int64(stats.Documents)))
					fmt.Fprintf(stdout, "Block rows:    %s\n", humanize.Comma(int64(stats.BlockRows)))
					fmt.Fprintf(stdout, "Unique blocks: %s\n", humanize.Comma(int64(stats.UniqueBlocks)))
					fmt.Fprintf(stdout, "Content:       %s raw, %s stored\n",
						humanize.IBytes(uint64(stats.RawBytes)), humanize.IBytes(uint64(stats.StoredBytes)))
					fmt.Fprintf(stdout, "Trees:         %s\n", humanize.Comma(int64(stats.Trees)))
					return nil
				},
			},
			{
				Name:    "documents",
				Summary: "List stored document IDs",
				Usage:   "kiln store documents [flags]",
				Flags:   leafFlags("documents", g),
				Run: func(ctx context.Context, args []string) error {
					env, err := g.open("store/documents")
					if err != nil {
						return err
					}
					defer env.Close()
					database, err := env.requireDatabase()
					if err != nil {
						return err
					}
					documents, err := database.Documents(ctx)
					if err != nil {
						return err
					}
					if g.json {
						return cli.WriteJSON(stdout, documents)
					}
					for _, id := range documents {
						fmt.Fprintln(stdout, id)
					}
					return nil
				},
			},
			{
				Name:    "delete",
				Summary: "Delete documents' blocks and trees",
				Usage:   "kiln store delete [flags] <document-id>...",
				Flags:   leafFlags("delete", g),
				Run: func(ctx context.Context, args []string) error {
					if len(args) == 0 {
						return fmt.Errorf("at least one document ID is required")
					}
					env, err := g.open("store/delete")
					if err != nil {
						return err
					}
					defer env.Close()
					database, err := env.requireDatabase()
					if err != nil {
						return err
					}
					for _, id := range args {
						if err := database.DeleteDocument(ctx, id); err != nil {
							return err
						}
						if err := database.DeleteTree(ctx, id); err != nil {
							return err
						}
						env.logger.Info("deleted document", "document_id", id)
					}
					return nil
				},
			},
		},
	}
}
