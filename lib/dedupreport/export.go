// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedupreport

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Format is an export format.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// ParseFormat parses a format name. "md" is accepted for Markdown.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want text, json, csv, or markdown)", name)
	}
}

// Export writes report to w in format.
func Export(w io.Writer, report *Report, format Format) error {
	switch format {
	case FormatText:
		_, err := io.WriteString(w, renderText(report))
		return err
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case FormatCSV:
		return writeCSV(w, report)
	case FormatMarkdown:
		_, err := io.WriteString(w, renderMarkdown(report))
		return err
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// csvPreview flattens a preview so spreadsheet tools that split on
// commas and newlines without honoring quotes still read one cell.
func csvPreview(preview string) string {
	preview = strings.ReplaceAll(preview, ",", ";")
	preview = strings.ReplaceAll(preview, "\r\n", " ")
	return strings.ReplaceAll(preview, "\n", " ")
}

func writeCSV(w io.Writer, report *Report) error {
	writer := csv.NewWriter(w)
	summary := report.Summary
	rows := [][]string{
		{"section", "metric", "value"},
		{"summary", "total_blocks", strconv.Itoa(summary.TotalBlocks)},
		{"summary", "unique_blocks", strconv.Itoa(summary.UniqueBlocks)},
		{"summary", "duplicate_blocks", strconv.Itoa(summary.DuplicateBlocks)},
		{"summary", "deduplication_ratio_percent", strconv.FormatFloat(summary.DeduplicationRatioPercent, 'f', 1, 64)},
		{"summary", "storage_saved_bytes", strconv.FormatInt(summary.StorageSaved, 10)},
		{"summary", "efficiency_score", strconv.Itoa(summary.EfficiencyScore)},
		{"summary", "average_block_size", strconv.Itoa(report.Detailed.AverageBlockSize)},
		{"summary", "size_source", string(report.Detailed.SizeSource)},
		{"summary", "approximate", strconv.FormatBool(report.Storage.Approximate)},
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}

	// A blank record separates the tables.
	if err := writer.Write([]string{""}); err != nil {
		return err
	}
	if err := writer.Write([]string{"block_hash", "occurrences", "block_type", "size_bytes", "storage_saved", "documents", "preview"}); err != nil {
		return err
	}
	for _, duplicate := range report.TopDuplicates {
		record := []string{
			duplicate.Hash.String(),
			strconv.Itoa(duplicate.OccurrenceCount),
			string(duplicate.BlockType),
			strconv.Itoa(duplicate.Size),
			strconv.FormatInt(duplicate.StorageSaved, 10),
			strings.Join(duplicate.Documents, " "),
			csvPreview(duplicate.ContentPreview),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// markdownCell escapes text for a Markdown table cell.
func markdownCell(text string) string {
	text = strings.ReplaceAll(text, "|", `\|`)
	return strings.Join(strings.Fields(text), " ")
}

func renderMarkdown(report *Report) string {
	var b strings.Builder
	metadata := report.Metadata
	fmt.Fprintf(&b, "# %s\n\n", metadata.Title)
	fmt.Fprintf(&b, "**Generated:** %s  \n", metadata.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "**Report ID:** %s  \n", metadata.ID)
	if metadata.DataSource != "" {
		fmt.Fprintf(&b, "**Data source:** %s  \n", metadata.DataSource)
	}
	if metadata.Period != nil {
		fmt.Fprintf(&b, "**Period:** %s to %s  \n",
			metadata.Period.Start.Format("2006-01-02"), metadata.Period.End.Format("2006-01-02"))
	}
	b.WriteString("\n## Summary\n\n")
	b.WriteString("| Metric | Value |\n|--------|-------|\n")
	for _, row := range summaryRows(report) {
		fmt.Fprintf(&b, "| %s | %s |\n", row[0], row[1])
	}
	fmt.Fprintf(&b, "\n### Key finding\n\n%s\n\n", report.Summary.KeyFinding)

	if len(report.BlockTypes) > 0 {
		b.WriteString("## Block types\n\n")
		b.WriteString("| Type | Instances | Unique | Duplicates | Ratio | Avg size |\n")
		b.WriteString("|------|-----------|--------|------------|-------|----------|\n")
		for _, stats := range report.BlockTypes {
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %.1f%% | %d bytes |\n",
				stats.Type, stats.TotalCount, stats.UniqueCount, stats.DuplicateCount,
				stats.DeduplicationRatio*100, stats.AverageSize)
		}
		b.WriteString("\n")
	}

	if len(report.TopDuplicates) > 0 {
		b.WriteString("## Most duplicated blocks\n\n")
		b.WriteString("| Occurrences | Type | Size | Saved | Preview |\n")
		b.WriteString("|-------------|------|------|-------|---------|\n")
		for _, duplicate := range report.TopDuplicates {
			fmt.Fprintf(&b, "| %d | %s | %d bytes | %d bytes | %s |\n",
				duplicate.OccurrenceCount, duplicate.BlockType, duplicate.Size,
				duplicate.StorageSaved, markdownCell(duplicate.ContentPreview))
		}
		b.WriteString("\n")
	}

	if len(report.Recommendations) > 0 {
		b.WriteString("## Recommendations\n\n")
		for i, recommendation := range report.Recommendations {
			fmt.Fprintf(&b, "### %d. %s\n\n", i+1, recommendation.Title)
			fmt.Fprintf(&b, "**Priority:** %s  \n", recommendation.Priority)
			fmt.Fprintf(&b, "**Impact:** %s  \n", recommendation.Impact)
			fmt.Fprintf(&b, "**Effort:** %s\n\n", recommendation.Effort)
			fmt.Fprintf(&b, "%s\n\n", recommendation.Description)
		}
	}

	fmt.Fprintf(&b, "_%s_\n", ApproximationNote)
	return b.String()
}
