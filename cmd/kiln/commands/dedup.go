// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/kiln/cmd/kiln/cli"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/dedup"
	"github.com/bureau-foundation/kiln/lib/dedupreport"
)

func dedupCommand(g *globals, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "dedup",
		Summary: "Find and quantify blocks shared across documents",
		Description: `Query block/document associations for duplication. Every dedup
command accepts --ingest to hash markdown files first, which combined
with --memory analyzes a directory without touching a database:

  kiln dedup stats --memory --ingest ~/vault`,
		Subcommands: []*cli.Command{
			dedupDuplicatesCommand(g, stdout),
			dedupStatsCommand(g, stdout),
			dedupUsageCommand(g, stdout),
			dedupReportCommand(g, stdout),
			dedupLookupCommand(g, stdout),
			dedupBlocksCommand(g, stdout),
		},
	}
}

// dedupFlags registers --ingest plus the globals.
func dedupFlags(name string, g *globals, ingest *[]string, extra func(*pflag.FlagSet)) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		flagSet.StringSliceVar(ingest, "ingest", nil, "markdown files or directories to ingest before querying")
		if extra != nil {
			extra(flagSet)
		}
		g.register(flagSet)
		return flagSet
	}
}

// openForQuery opens the environment and ingests any --ingest paths.
func (g *globals) openForQuery(ctx context.Context, command string, ingest []string) (*environment, error) {
	env, err := g.open(command)
	if err != nil {
		return nil, err
	}
	if len(ingest) > 0 {
		results, err := env.ingestPaths(ctx, ingest, "")
		if err != nil {
			env.Close()
			return nil, err
		}
		env.logger.Debug("ingested before query", "documents", len(results))
	}
	return env, nil
}

func dedupDuplicatesCommand(g *globals, stdout io.Writer) *cli.Command {
	var ingest []string
	var minimum, limit int
	return &cli.Command{
		Name:    "duplicates",
		Summary: "List blocks present in at least --min documents",
		Usage:   "kiln dedup duplicates [flags]",
		Flags: dedupFlags("duplicates", g, &ingest, func(flagSet *pflag.FlagSet) {
			flagSet.IntVar(&minimum, "min", 2, "minimum number of distinct documents")
			flagSet.IntVar(&limit, "limit", 0, "maximum blocks to list (0 lists all)")
		}),
		Run: func(ctx context.Context, args []string) error {
			env, err := g.openForQuery(ctx, "dedup/duplicates", ingest)
			if err != nil {
				return err
			}
			defer env.Close()

			duplicates, err := env.detector().FindDuplicateBlocks(ctx, minimum)
			if err != nil {
				return err
			}
			if limit > 0 && len(duplicates) > limit {
				duplicates = duplicates[:limit]
			}
			if g.json {
				return cli.WriteJSON(stdout, duplicates)
			}
			return writeDuplicates(stdout, duplicates)
		},
	}
}

func writeDuplicates(w io.Writer, duplicates []dedup.DuplicateBlock) error {
	if len(duplicates) == 0 {
		fmt.Fprintln(w, "No duplicated blocks.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HASH\tDOCS\tTYPE\tSIZE\tSAVED\tPREVIEW")
	for _, duplicate := range duplicates {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			shortHash(duplicate.Hash), duplicate.OccurrenceCount, duplicate.BlockType,
			humanize.IBytes(uint64(duplicate.Size)), humanize.IBytes(uint64(duplicate.StorageSaved)),
			oneLine(duplicate.ContentPreview, 60))
	}
	return tw.Flush()
}

func dedupStatsCommand(g *globals, stdout io.Writer) *cli.Command {
	var ingest []string
	return &cli.Command{
		Name:    "stats",
		Summary: "Corpus-wide deduplication statistics",
		Usage:   "kiln dedup stats [flags]",
		Flags:   dedupFlags("stats", g, &ingest, nil),
		Run: func(ctx context.Context, args []string) error {
			env, err := g.openForQuery(ctx, "dedup/stats", ingest)
			if err != nil {
				return err
			}
			defer env.Close()

			stats, err := env.detector().AllStats(ctx)
			if err != nil {
				return err
			}
			if g.json {
				return cli.WriteJSON(stdout, stats)
			}
			fmt.Fprintf(stdout, "Unique blocks:       %s\n", humanize.Comma(int64(stats.TotalUniqueBlocks)))
			fmt.Fprintf(stdout, "Block instances:     %s\n", humanize.Comma(int64(stats.TotalBlockInstances)))
			fmt.Fprintf(stdout, "Duplicate instances: %s\n", humanize.Comma(int64(stats.DuplicateBlocks)))
			fmt.Fprintf(stdout, "Deduplication ratio: %.1f%%\n", stats.DeduplicationRatio*100)
			fmt.Fprintf(stdout, "Storage saved:       ~%s (average block %s, %s)\n",
				humanize.IBytes(uint64(stats.TotalStorageSaved)),
				humanize.IBytes(uint64(stats.AverageBlockSize)), stats.SizeSource)
			if len(stats.MostDuplicated) > 0 {
				fmt.Fprintln(stdout, "\nMost duplicated:")
				return writeDuplicates(stdout, stats.MostDuplicated)
			}
			return nil
		},
	}
}

func dedupUsageCommand(g *globals, stdout io.Writer) *cli.Command {
	var ingest []string
	return &cli.Command{
		Name:    "usage",
		Summary: "Estimated storage with and without deduplication",
		Usage:   "kiln dedup usage [flags]",
		Flags:   dedupFlags("usage", g, &ingest, nil),
		Run: func(ctx context.Context, args []string) error {
			env, err := g.openForQuery(ctx, "dedup/usage", ingest)
			if err != nil {
				return err
			}
			defer env.Close()

			usage, err := env.detector().StorageUsage(ctx)
			if err != nil {
				return err
			}
			if g.json {
				return cli.WriteJSON(stdout, usage)
			}
			fmt.Fprintf(stdout, "Without deduplication: ~%s\n", humanize.IBytes(uint64(usage.TotalBlockStorage)))
			fmt.Fprintf(stdout, "Savings:               ~%s\n", humanize.IBytes(uint64(usage.DeduplicationSavings)))
			fmt.Fprintf(stdout, "Stored blocks:         %s\n", humanize.Comma(int64(usage.StoredBlockCount)))
			fmt.Fprintf(stdout, "Storage efficiency:    %.1f%%\n", usage.StorageEfficiency*100)
			fmt.Fprintf(stdout, "\n%s\n", dedupreport.ApproximationNote)
			return nil
		},
	}
}

func dedupReportCommand(g *globals, stdout io.Writer) *cli.Command {
	var ingest []string
	var format, output, title string
	var top int
	return &cli.Command{
		Name:    "report",
		Summary: "Generate a deduplication report",
		Description: `Generate a report with summary figures, a per-type breakdown, the
most duplicated blocks, and recommendations. --json is shorthand for
--format json.`,
		Usage: "kiln dedup report [flags]",
		Examples: []cli.Example{
			{Description: "Markdown report into a note", Command: "kiln dedup report --format markdown --output dedup.md"},
			{Description: "Spreadsheet export", Command: "kiln dedup report --format csv > dedup.csv"},
		},
		Flags: dedupFlags("report", g, &ingest, func(flagSet *pflag.FlagSet) {
			flagSet.StringVarP(&format, "format", "f", "text", "output format: text, json, csv, markdown")
			flagSet.StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
			flagSet.StringVar(&title, "title", "", "report title")
			flagSet.IntVar(&top, "top", dedupreport.DefaultTopDuplicates, "number of duplicated blocks to list")
		}),
		Run: func(ctx context.Context, args []string) error {
			if g.json {
				format = string(dedupreport.FormatJSON)
			}
			parsedFormat, err := dedupreport.ParseFormat(format)
			if err != nil {
				return err
			}
			env, err := g.openForQuery(ctx, "dedup/report", ingest)
			if err != nil {
				return err
			}
			defer env.Close()

			source := "memory"
			if env.database != nil {
				source = env.config.Storage.Path
			}
			report, err := dedupreport.Generate(ctx, env.detector(), dedupreport.Options{
				TopDuplicates: top,
				Title:         title,
				DataSource:    source,
			})
			if err != nil {
				return err
			}

			if output == "" {
				return dedupreport.Export(stdout, report, parsedFormat)
			}
			file, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := dedupreport.Export(file, report, parsedFormat); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			env.logger.Info("wrote report", "path", output, "format", string(parsedFormat))
			return nil
		},
	}
}

type lookupResult struct {
	Hash        blockhash.Hash `json:"block_hash"`
	Occurrences int            `json:"occurrence_count"`
	Documents   []string       `json:"documents"`
	Preview     string         `json:"content_preview,omitempty"`
	BlockType   string         `json:"block_type,omitempty"`
}

func dedupLookupCommand(g *globals, stdout io.Writer) *cli.Command {
	var ingest []string
	return &cli.Command{
		Name:    "lookup",
		Summary: "Show which documents contain the given block hashes",
		Usage:   "kiln dedup lookup [flags] <hash>...",
		Flags:   dedupFlags("lookup", g, &ingest, nil),
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one block hash is required")
			}
			hashes := make([]blockhash.Hash, len(args))
			for i, arg := range args {
				hash, err := blockhash.Parse(arg)
				if err != nil {
					return err
				}
				hashes[i] = hash
			}

			env, err := g.openForQuery(ctx, "dedup/lookup", ingest)
			if err != nil {
				return err
			}
			defer env.Close()

			detector := env.detector()
			documents, err := detector.FindDocumentsWithBlocks(ctx, hashes)
			if err != nil {
				return err
			}
			counts, err := detector.BlockDeduplicationStats(ctx, hashes)
			if err != nil {
				return err
			}
			records, err := detector.BlocksByHashes(ctx, hashes)
			if err != nil {
				return err
			}

			results := make([]lookupResult, len(hashes))
			for i, hash := range hashes {
				results[i] = lookupResult{Hash: hash, Occurrences: counts[hash], Documents: documents[hash]}
				if record, ok := records[hash]; ok {
					results[i].Preview = record.Preview(env.config.Dedup.PreviewLength)
					results[i].BlockType = string(record.Type)
				}
			}
			if g.json {
				return cli.WriteJSON(stdout, results)
			}
			for _, result := range results {
				if result.Occurrences == 0 {
					fmt.Fprintf(stdout, "%s  not found\n", result.Hash)
					continue
				}
				fmt.Fprintf(stdout, "%s  %s in %d documents: %s\n",
					result.Hash, result.BlockType, result.Occurrences, strings.Join(result.Documents, ", "))
				fmt.Fprintf(stdout, "    %s\n", oneLine(result.Preview, 72))
			}
			return nil
		},
	}
}

func dedupBlocksCommand(g *globals, stdout io.Writer) *cli.Command {
	var ingest []string
	return &cli.Command{
		Name:    "blocks",
		Summary: "List a document's blocks with their occurrence counts",
		Usage:   "kiln dedup blocks [flags] <document-id>",
		Flags:   dedupFlags("blocks", g, &ingest, nil),
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one document ID is required")
			}
			env, err := g.openForQuery(ctx, "dedup/blocks", ingest)
			if err != nil {
				return err
			}
			defer env.Close()

			detector := env.detector()
			records, err := detector.DocumentBlocks(ctx, args[0])
			if err != nil {
				return err
			}
			hashes := make([]blockhash.Hash, len(records))
			for i, record := range records {
				hashes[i] = record.Hash
			}
			counts, err := detector.BlockDeduplicationStats(ctx, hashes)
			if err != nil {
				return err
			}

			if g.json {
				type blockRow struct {
					dedup.BlockRecord
					Occurrences int `json:"occurrence_count"`
				}
				rows := make([]blockRow, len(records))
				for i, record := range records {
					rows[i] = blockRow{BlockRecord: record, Occurrences: counts[record.Hash]}
				}
				return cli.WriteJSON(stdout, rows)
			}
			tw := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tTYPE\tHASH\tDOCS\tPREVIEW")
			for _, record := range records {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
					record.Index, record.Type, shortHash(record.Hash), counts[record.Hash],
					oneLine(record.Preview(env.config.Dedup.PreviewLength), 60))
			}
			return tw.Flush()
		},
	}
}

// oneLine collapses whitespace and truncates to width runes.
func oneLine(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	return string(runes[:width-3]) + "..."
}
