// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedupreport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	sectionStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	noteStyle    = lipgloss.NewStyle().Faint(true).Italic(true)

	priorityStyles = map[Priority]lipgloss.Style{
		PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	}
)

// summaryRows is the metric table shared by the text and Markdown
// renderers.
func summaryRows(report *Report) [][]string {
	summary := report.Summary
	return [][]string{
		{"Total blocks", humanize.Comma(int64(summary.TotalBlocks))},
		{"Unique blocks", humanize.Comma(int64(summary.UniqueBlocks))},
		{"Duplicate blocks", humanize.Comma(int64(summary.DuplicateBlocks))},
		{"Deduplication ratio", fmt.Sprintf("%.1f%%", summary.DeduplicationRatioPercent)},
		{"Storage saved (est.)", humanize.IBytes(uint64(max(summary.StorageSaved, 0)))},
		{"Efficiency score", fmt.Sprintf("%d/100", summary.EfficiencyScore)},
		{"Average block size", fmt.Sprintf("%d bytes (%s)", report.Detailed.AverageBlockSize, report.Detailed.SizeSource)},
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, column int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderText(report *Report) string {
	var b strings.Builder
	metadata := report.Metadata
	b.WriteString(titleStyle.Render(metadata.Title) + "\n")
	fmt.Fprintf(&b, "Generated %s (report %s)\n", metadata.GeneratedAt.Format("2006-01-02 15:04:05 UTC"), metadata.ID)
	if metadata.DataSource != "" {
		fmt.Fprintf(&b, "Source: %s\n", metadata.DataSource)
	}

	b.WriteString("\n" + sectionStyle.Render("Summary") + "\n")
	summary := newTable("Metric", "Value").Rows(summaryRows(report)...)
	b.WriteString(summary.String() + "\n")
	fmt.Fprintf(&b, "\n%s\n", report.Summary.KeyFinding)

	if len(report.BlockTypes) > 0 {
		b.WriteString("\n" + sectionStyle.Render("Block types") + "\n")
		types := newTable("Type", "Instances", "Unique", "Duplicates", "Ratio", "Avg size")
		for _, stats := range report.BlockTypes {
			types.Row(
				string(stats.Type),
				humanize.Comma(int64(stats.TotalCount)),
				humanize.Comma(int64(stats.UniqueCount)),
				humanize.Comma(int64(stats.DuplicateCount)),
				fmt.Sprintf("%.1f%%", stats.DeduplicationRatio*100),
				humanize.IBytes(uint64(stats.AverageSize)),
			)
		}
		b.WriteString(types.String() + "\n")
	}

	if len(report.TopDuplicates) > 0 {
		b.WriteString("\n" + sectionStyle.Render("Most duplicated blocks") + "\n")
		duplicates := newTable("Occurrences", "Type", "Size", "Saved", "Preview")
		for _, duplicate := range report.TopDuplicates {
			duplicates.Row(
				strconv.Itoa(duplicate.OccurrenceCount),
				string(duplicate.BlockType),
				humanize.IBytes(uint64(duplicate.Size)),
				humanize.IBytes(uint64(max(duplicate.StorageSaved, 0))),
				textPreview(duplicate.ContentPreview, 48),
			)
		}
		b.WriteString(duplicates.String() + "\n")
	}

	if len(report.Recommendations) > 0 {
		b.WriteString("\n" + sectionStyle.Render("Recommendations") + "\n")
		for i, recommendation := range report.Recommendations {
			priority := priorityStyles[recommendation.Priority].Render(string(recommendation.Priority))
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, recommendation.Title, priority)
			fmt.Fprintf(&b, "   %s\n", recommendation.Description)
			fmt.Fprintf(&b, "   Impact: %s. Effort: %s.\n", recommendation.Impact, recommendation.Effort)
		}
	}

	b.WriteString("\n" + noteStyle.Render(ApproximationNote) + "\n")
	return b.String()
}

// textPreview collapses whitespace and truncates to width runes so
// table rows stay on one line.
func textPreview(preview string, width int) string {
	preview = strings.Join(strings.Fields(preview), " ")
	runes := []rune(preview)
	if len(runes) <= width {
		return preview
	}
	return string(runes[:width-3]) + "..."
}
