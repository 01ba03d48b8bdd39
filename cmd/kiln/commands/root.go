// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the kiln command tree.
package commands

import (
	"io"

	"github.com/bureau-foundation/kiln/cmd/kiln/cli"
)

// Root returns the kiln command tree. Command output goes to stdout;
// logs and help go to stderr.
func Root(stdout io.Writer) *cli.Command {
	g := &globals{}
	return &cli.Command{
		Name:    "kiln",
		Summary: "Content-addressed block storage for markdown notes",
		Description: `kiln hashes markdown documents into content-addressed blocks,
organizes each document into a verifiable Merkle tree of sections,
and reports which blocks are duplicated across documents.

Configuration comes from --config, then $KILN_CONFIG, then built-in
defaults (database at ~/.cache/kiln/blocks.db).`,
		Examples: []cli.Example{
			{Description: "Ingest a vault and list shared blocks", Command: "kiln ingest ~/vault && kiln dedup duplicates"},
			{Description: "Analyze without a database", Command: "kiln dedup report --memory --ingest ~/vault"},
		},
		Subcommands: []*cli.Command{
			ingestCommand(g, stdout),
			ingestManifestCommand(g, stdout),
			treeCommand(g, stdout),
			dedupCommand(g, stdout),
			storeCommand(g, stdout),
			hashCommand(g, stdout),
			versionCommand(stdout),
		},
	}
}
