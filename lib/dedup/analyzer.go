// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import "github.com/bureau-foundation/kiln/lib/blockhash"

// DefaultAverageBlockSize is the size estimate used when nothing
// better is configured or sampled.
const DefaultAverageBlockSize = 1024

// SizeSource records where an average block size came from.
type SizeSource string

const (
	SizeConfigured SizeSource = "configured"
	SizeSampled    SizeSource = "sampled"
)

// Counts is the raw input to every derived figure.
type Counts struct {
	// UniqueBlocks is the number of distinct hashes.
	UniqueBlocks int `json:"unique_blocks"`

	// BlockInstances is the sum of per-hash occurrence counts.
	BlockInstances int `json:"block_instances"`
}

// CountsFrom reduces an occurrence map to Counts.
func CountsFrom(occurrences map[blockhash.Hash]int) Counts {
	counts := Counts{UniqueBlocks: len(occurrences)}
	for _, occurrences := range occurrences {
		counts.BlockInstances += occurrences
	}
	return counts
}

// Duplicates returns BlockInstances - UniqueBlocks.
func (c Counts) Duplicates() int {
	return c.BlockInstances - c.UniqueBlocks
}

// Stats is a corpus-wide deduplication snapshot.
type Stats struct {
	TotalUniqueBlocks   int     `json:"total_unique_blocks"`
	TotalBlockInstances int     `json:"total_block_instances"`
	DuplicateBlocks     int     `json:"duplicate_blocks"`
	DeduplicationRatio  float64 `json:"deduplication_ratio"`

	// TotalStorageSaved is DuplicateBlocks × AverageBlockSize bytes:
	// an estimate.
	TotalStorageSaved int64 `json:"total_storage_saved"`

	AverageBlockSize int        `json:"average_block_size"`
	SizeSource       SizeSource `json:"size_source"`

	MostDuplicated []DuplicateBlock `json:"most_duplicated_blocks"`
}

// StorageUsage interprets the counts as bytes.
type StorageUsage struct {
	// TotalBlockStorage is what storage would cost with no
	// deduplication: BlockInstances × AverageBlockSize.
	TotalBlockStorage int64 `json:"total_block_storage"`

	DeduplicationSavings int64 `json:"deduplication_savings"`

	// StoredBlockCount is the number of blocks actually stored.
	StoredBlockCount int `json:"stored_block_count"`

	// StorageEfficiency is StoredBlockCount / BlockInstances: 1.0 when
	// nothing is duplicated, lower as more is saved.
	StorageEfficiency float64 `json:"storage_efficiency"`

	AverageBlockSize int        `json:"average_block_size"`
	SizeSource       SizeSource `json:"size_source"`

	// Approximate is always true while sizes come from an average.
	Approximate bool `json:"approximate"`
}

// Analyzer turns counts into storage figures using an average block
// size.
type Analyzer struct {
	AverageBlockSize int
	Source           SizeSource
}

// NewAnalyzer returns an Analyzer for a configured average size. A
// non-positive size selects [DefaultAverageBlockSize].
func NewAnalyzer(averageBlockSize int) Analyzer {
	if averageBlockSize <= 0 {
		averageBlockSize = DefaultAverageBlockSize
	}
	return Analyzer{AverageBlockSize: averageBlockSize, Source: SizeConfigured}
}

// Stats derives the deduplication snapshot. MostDuplicated is left for
// the caller to fill.
func (a Analyzer) Stats(counts Counts) Stats {
	duplicates := counts.Duplicates()
	ratio := 0.0
	if counts.BlockInstances > 0 {
		ratio = float64(duplicates) / float64(counts.BlockInstances)
	}
	return Stats{
		TotalUniqueBlocks:   counts.UniqueBlocks,
		TotalBlockInstances: counts.BlockInstances,
		DuplicateBlocks:     duplicates,
		DeduplicationRatio:  ratio,
		TotalStorageSaved:   int64(duplicates) * int64(a.AverageBlockSize),
		AverageBlockSize:    a.AverageBlockSize,
		SizeSource:          a.Source,
	}
}

// Usage derives storage usage. With no instances the efficiency is
// 1.0: there is nothing to save.
func (a Analyzer) Usage(counts Counts) StorageUsage {
	efficiency := 1.0
	if counts.BlockInstances > 0 {
		efficiency = float64(counts.UniqueBlocks) / float64(counts.BlockInstances)
	}
	return StorageUsage{
		TotalBlockStorage:    int64(counts.BlockInstances) * int64(a.AverageBlockSize),
		DeduplicationSavings: int64(counts.Duplicates()) * int64(a.AverageBlockSize),
		StoredBlockCount:     counts.UniqueBlocks,
		StorageEfficiency:    efficiency,
		AverageBlockSize:     a.AverageBlockSize,
		SizeSource:           a.Source,
		Approximate:          true,
	}
}

// BlockSavings estimates the bytes saved for one block stored once
// instead of occurrences times. size is the block's real size when
// known, otherwise the average is used.
func (a Analyzer) BlockSavings(occurrences, size int) int64 {
	if size <= 0 {
		size = a.AverageBlockSize
	}
	if occurrences < 2 {
		return 0
	}
	return int64(occurrences-1) * int64(size)
}
