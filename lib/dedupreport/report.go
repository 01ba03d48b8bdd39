// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dedupreport builds human- and machine-readable deduplication
// reports from a dedup.Detector: summary figures, a per-block-type
// breakdown, the most duplicated blocks, storage usage, and
// recommendations. Reports export as text, JSON, CSV, or Markdown.
package dedupreport

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/clock"
	"github.com/bureau-foundation/kiln/lib/dedup"
)

// Version is the report schema version written to Metadata.
const Version = "1"

// DefaultTopDuplicates bounds Report.TopDuplicates when
// Options.TopDuplicates is zero.
const DefaultTopDuplicates = 20

// Key finding thresholds on the deduplication ratio.
const (
	HighRatio     = 0.5
	ModerateRatio = 0.2
)

// Recommendation triggers.
const (
	LowEfficiency         = 0.7
	LargeAverageBlockSize = 500
)

// ApproximationNote accompanies every export. Byte figures are
// derived from an average block size.
const ApproximationNote = "Storage figures are estimates derived from an average block size."

// Options configures Generate.
type Options struct {
	// TopDuplicates bounds the number of blocks listed. Zero selects
	// DefaultTopDuplicates.
	TopDuplicates int

	// Title defaults to "Block Deduplication Report".
	Title string

	// DataSource describes where the blocks came from, such as a
	// database path.
	DataSource string

	// Period is the analysis window, when the caller knows one.
	Period *Period

	// Clock stamps GeneratedAt. Nil uses the real clock.
	Clock clock.Clock
}

// Period is an analysis window.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Report is a complete deduplication report.
type Report struct {
	Metadata        Metadata               `json:"metadata"`
	Summary         Summary                `json:"summary"`
	Detailed        Detailed               `json:"detailed_stats"`
	BlockTypes      []TypeStats            `json:"block_types"`
	TopDuplicates   []dedup.DuplicateBlock `json:"top_duplicates"`
	Storage         dedup.StorageUsage     `json:"storage"`
	Recommendations []Recommendation       `json:"recommendations"`
}

// Metadata identifies a report.
type Metadata struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	GeneratedAt time.Time `json:"generated_at"`
	Version     string    `json:"version"`
	DataSource  string    `json:"data_source,omitempty"`
	Period      *Period   `json:"period,omitempty"`
}

// Summary is the at-a-glance view.
type Summary struct {
	TotalBlocks               int     `json:"total_blocks"`
	UniqueBlocks              int     `json:"unique_blocks"`
	DuplicateBlocks           int     `json:"duplicate_blocks"`
	DeduplicationRatioPercent float64 `json:"deduplication_ratio_percent"`
	StorageSaved              int64   `json:"storage_saved"`

	// EfficiencyScore is storage efficiency as an integer percentage.
	EfficiencyScore int    `json:"efficiency_score"`
	KeyFinding      string `json:"key_finding"`
}

// Detailed carries the detector's figures unchanged.
type Detailed struct {
	TotalUniqueBlocks   int              `json:"total_unique_blocks"`
	TotalBlockInstances int              `json:"total_block_instances"`
	DuplicateBlocks     int              `json:"duplicate_blocks"`
	DeduplicationRatio  float64          `json:"deduplication_ratio"`
	TotalStorageSaved   int64            `json:"total_storage_saved"`
	AverageBlockSize    int              `json:"average_block_size"`
	SizeSource          dedup.SizeSource `json:"size_source"`
	CalculatedAt        time.Time        `json:"calculated_at"`
}

// TypeStats breaks the counts down by block type. Sizes here are real
// content sizes, not the average.
type TypeStats struct {
	Type               block.Type `json:"block_type"`
	TotalCount         int        `json:"total_count"`
	UniqueCount        int        `json:"unique_count"`
	DuplicateCount     int        `json:"duplicate_count"`
	DeduplicationRatio float64    `json:"deduplication_ratio"`
	AverageSize        int        `json:"average_size"`
	StorageSaved       int64      `json:"storage_saved"`
}

// Priority ranks a recommendation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Effort estimates the work a recommendation needs.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Recommendation is one suggested action.
type Recommendation struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	Impact      string   `json:"estimated_impact"`
	Effort      Effort   `json:"implementation_effort"`
}

// Generate queries detector and assembles a report.
func Generate(ctx context.Context, detector *dedup.Detector, options Options) (*Report, error) {
	if options.TopDuplicates <= 0 {
		options.TopDuplicates = DefaultTopDuplicates
	}
	if options.Title == "" {
		options.Title = "Block Deduplication Report"
	}
	reportClock := options.Clock
	if reportClock == nil {
		reportClock = clock.Real()
	}

	stats, err := detector.AllStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}
	usage, err := detector.StorageUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}
	top, err := detector.MostDuplicated(ctx, options.TopDuplicates)
	if err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}
	types, err := detector.TypeCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}

	now := reportClock.Now().UTC()
	ratioPercent := stats.DeduplicationRatio * 100
	return &Report{
		Metadata: Metadata{
			ID:          uuid.NewString(),
			Title:       options.Title,
			GeneratedAt: now,
			Version:     Version,
			DataSource:  options.DataSource,
			Period:      options.Period,
		},
		Summary: Summary{
			TotalBlocks:               stats.TotalBlockInstances,
			UniqueBlocks:              stats.TotalUniqueBlocks,
			DuplicateBlocks:           stats.DuplicateBlocks,
			DeduplicationRatioPercent: ratioPercent,
			StorageSaved:              stats.TotalStorageSaved,
			EfficiencyScore:           int(usage.StorageEfficiency * 100),
			KeyFinding:                keyFinding(stats.DeduplicationRatio),
		},
		Detailed: Detailed{
			TotalUniqueBlocks:   stats.TotalUniqueBlocks,
			TotalBlockInstances: stats.TotalBlockInstances,
			DuplicateBlocks:     stats.DuplicateBlocks,
			DeduplicationRatio:  stats.DeduplicationRatio,
			TotalStorageSaved:   stats.TotalStorageSaved,
			AverageBlockSize:    stats.AverageBlockSize,
			SizeSource:          stats.SizeSource,
			CalculatedAt:        now,
		},
		BlockTypes:      typeBreakdown(types),
		TopDuplicates:   top,
		Storage:         usage,
		Recommendations: Recommend(stats, usage),
	}, nil
}

func keyFinding(ratio float64) string {
	percent := ratio * 100
	switch {
	case ratio > HighRatio:
		return fmt.Sprintf("High deduplication ratio (%.1f%%): significant content reuse across documents.", percent)
	case ratio > ModerateRatio:
		return fmt.Sprintf("Moderate deduplication ratio (%.1f%%): some content is reused across documents.", percent)
	default:
		return fmt.Sprintf("Low deduplication ratio (%.1f%%): content is mostly unique across documents.", percent)
	}
}

// Recommend derives recommendations from the figures. It always
// returns at least one.
func Recommend(stats dedup.Stats, usage dedup.StorageUsage) []Recommendation {
	var recommendations []Recommendation
	if stats.DeduplicationRatio > HighRatio {
		recommendations = append(recommendations, Recommendation{
			Title:       "Extract highly duplicated content into shared notes",
			Description: "Much of the corpus repeats. Move recurring passages into notes that other documents link to or embed.",
			Priority:    PriorityHigh,
			Impact:      "High: could reduce block instances by 20-40%",
			Effort:      EffortMedium,
		})
	}
	if usage.StorageEfficiency < LowEfficiency {
		recommendations = append(recommendations, Recommendation{
			Title:       "Use block-level change detection on ingest",
			Description: "Storage efficiency is low. Compare Merkle trees on re-ingest so only changed blocks are rewritten.",
			Priority:    PriorityMedium,
			Impact:      "Medium: fewer writes for edited documents",
			Effort:      EffortHigh,
		})
	}
	if stats.AverageBlockSize > LargeAverageBlockSize {
		recommendations = append(recommendations, Recommendation{
			Title:       "Split large blocks",
			Description: "The average block is large, which limits how often blocks match exactly. Smaller blocks deduplicate more readily.",
			Priority:    PriorityMedium,
			Impact:      "Medium: could raise the deduplication ratio",
			Effort:      EffortMedium,
		})
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, Recommendation{
			Title:       "Continue monitoring deduplication metrics",
			Description: "Deduplication looks healthy. Re-run this report as the corpus grows.",
			Priority:    PriorityLow,
			Impact:      "Low: maintenance",
			Effort:      EffortLow,
		})
	}
	return recommendations
}

// typeBreakdown converts the detector's per-type aggregates, most
// duplicated type first.
func typeBreakdown(counts []dedup.TypeCount) []TypeStats {
	breakdown := make([]TypeStats, 0, len(counts))
	for _, count := range counts {
		stats := TypeStats{
			Type:           count.Type,
			TotalCount:     count.Occurrences,
			UniqueCount:    count.Unique,
			DuplicateCount: count.Duplicates,
			StorageSaved:   count.SavedSize,
		}
		if stats.TotalCount > 0 {
			stats.DeduplicationRatio = float64(stats.DuplicateCount) / float64(stats.TotalCount)
		}
		if stats.UniqueCount > 0 {
			stats.AverageSize = int(count.TotalSize / int64(stats.UniqueCount))
		}
		breakdown = append(breakdown, stats)
	}
	slices.SortFunc(breakdown, func(a, b TypeStats) int {
		if c := cmp.Compare(b.DuplicateCount, a.DuplicateCount); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	return breakdown
}
