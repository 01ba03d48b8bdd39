// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
)

// typeScanBatch bounds the hashes fetched per BlocksForHashes call when
// TypeCounts scans a store that is not a TypeCounter.
const typeScanBatch = 1000

// Defaults for [Options] fields left at zero.
const (
	DefaultPreviewLength = 100
	DefaultTopDuplicates = 10
)

// Options configures a Detector.
type Options struct {
	// AverageBlockSize is the size estimate in bytes. Zero selects
	// DefaultAverageBlockSize.
	AverageBlockSize int

	// SampleSizes replaces the configured average with the store's
	// mean content size when the store implements SizeSampler and
	// holds at least one block.
	SampleSizes bool

	// PreviewLength bounds content previews, in runes.
	PreviewLength int

	// TopDuplicates bounds Stats.MostDuplicated.
	TopDuplicates int

	// Logger receives debug output. Nil discards.
	Logger *slog.Logger
}

// DuplicateBlock describes one block that appears in more than one
// document. Computed on demand, never stored.
type DuplicateBlock struct {
	Hash            blockhash.Hash `json:"block_hash"`
	Documents       []string       `json:"documents"`
	OccurrenceCount int            `json:"occurrence_count"`
	ContentPreview  string         `json:"content_preview"`
	BlockType       block.Type     `json:"block_type,omitempty"`

	// Size is the block's content size in bytes, when the store holds
	// its content.
	Size int `json:"size"`

	// StorageSaved is (OccurrenceCount - 1) × Size, falling back to
	// the average size when Size is unknown.
	StorageSaved int64 `json:"storage_saved"`
}

// Detector runs deduplication queries against a Store. It holds no
// mutable state and is safe for concurrent use.
type Detector struct {
	store   Store
	options Options
	logger  *slog.Logger
}

// NewDetector returns a Detector reading from store.
func NewDetector(store Store, options Options) *Detector {
	if options.PreviewLength <= 0 {
		options.PreviewLength = DefaultPreviewLength
	}
	if options.TopDuplicates <= 0 {
		options.TopDuplicates = DefaultTopDuplicates
	}
	if options.AverageBlockSize <= 0 {
		options.AverageBlockSize = DefaultAverageBlockSize
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{store: store, options: options, logger: logger}
}

// FindDocumentsWithBlock returns the sorted IDs of documents containing
// hash. Unknown hashes yield an empty list.
func (d *Detector) FindDocumentsWithBlock(ctx context.Context, hash blockhash.Hash) ([]string, error) {
	documents, err := d.FindDocumentsWithBlocks(ctx, []blockhash.Hash{hash})
	if err != nil {
		return nil, err
	}
	return documents[hash], nil
}

// FindDocumentsWithBlocks answers FindDocumentsWithBlock for every
// hash in one store query. Every input hash is a key in the result.
func (d *Detector) FindDocumentsWithBlocks(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash][]string, error) {
	result := make(map[blockhash.Hash][]string, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}
	found, err := d.store.DocumentsForHashes(ctx, distinct(hashes))
	if err != nil {
		return nil, storeError("documents for hashes", err)
	}
	for _, hash := range hashes {
		documents := found[hash]
		if documents == nil {
			documents = []string{}
		}
		result[hash] = documents
	}
	return result, nil
}

// DocumentBlocks returns a document's blocks in index order. Unknown
// documents yield an empty list.
func (d *Detector) DocumentBlocks(ctx context.Context, documentID string) ([]BlockRecord, error) {
	records, err := d.store.BlocksForDocument(ctx, documentID)
	if err != nil {
		return nil, storeError("blocks for document", err)
	}
	if records == nil {
		return []BlockRecord{}, nil
	}
	slices.SortStableFunc(records, func(a, b BlockRecord) int {
		return cmp.Compare(a.Index, b.Index)
	})
	return records, nil
}

// BlockByHash returns one stored copy of the block, or nil if the hash
// is unknown. Content-addressed copies are byte-identical, so any
// document's copy serves.
func (d *Detector) BlockByHash(ctx context.Context, hash blockhash.Hash) (*BlockRecord, error) {
	records, err := d.BlocksByHashes(ctx, []blockhash.Hash{hash})
	if err != nil {
		return nil, err
	}
	record, ok := records[hash]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// BlocksByHashes answers BlockByHash for every hash in one store
// query. Unknown hashes are absent from the result.
func (d *Detector) BlocksByHashes(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash]BlockRecord, error) {
	if len(hashes) == 0 {
		return map[blockhash.Hash]BlockRecord{}, nil
	}
	records, err := d.store.BlocksForHashes(ctx, distinct(hashes))
	if err != nil {
		return nil, storeError("blocks for hashes", err)
	}
	if records == nil {
		records = map[blockhash.Hash]BlockRecord{}
	}
	return records, nil
}

// OccurrenceCount returns the number of distinct documents containing
// hash, zero if unknown.
func (d *Detector) OccurrenceCount(ctx context.Context, hash blockhash.Hash) (int, error) {
	counts, err := d.BlockDeduplicationStats(ctx, []blockhash.Hash{hash})
	if err != nil {
		return 0, err
	}
	return counts[hash], nil
}

// BlockDeduplicationStats answers OccurrenceCount for every hash in one
// store query. Every input hash is a key in the result.
func (d *Detector) BlockDeduplicationStats(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash]int, error) {
	result := make(map[blockhash.Hash]int, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}
	counts, err := d.store.CountOccurrences(ctx, distinct(hashes))
	if err != nil {
		return nil, storeError("count occurrences", err)
	}
	for _, hash := range hashes {
		result[hash] = counts[hash]
	}
	return result, nil
}

// FindDuplicateBlocks returns every block present in at least
// minOccurrences distinct documents. A floor below 1 is treated as 1.
// The result is sorted by
// occurrence count descending, then hash, for stable output; callers
// that need a different ranking sort it themselves.
func (d *Detector) FindDuplicateBlocks(ctx context.Context, minOccurrences int) ([]DuplicateBlock, error) {
	minOccurrences = max(minOccurrences, 1)

	counts, err := d.store.CountOccurrences(ctx, nil)
	if err != nil {
		return nil, storeError("count occurrences", err)
	}

	var qualifying []blockhash.Hash
	for hash, count := range counts {
		if count >= minOccurrences {
			qualifying = append(qualifying, hash)
		}
	}

	duplicates, err := d.describe(ctx, qualifying, counts)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("found duplicate blocks",
		"min_occurrences", minOccurrences,
		"distinct_hashes", len(counts),
		"duplicates", len(duplicates),
	)
	return duplicates, nil
}

// AllStats computes the corpus-wide deduplication snapshot.
func (d *Detector) AllStats(ctx context.Context) (Stats, error) {
	counts, err := d.store.CountOccurrences(ctx, nil)
	if err != nil {
		return Stats{}, storeError("count occurrences", err)
	}
	analyzer, err := d.analyzer(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := analyzer.Stats(CountsFrom(counts))

	top := topDuplicated(counts, d.options.TopDuplicates)
	stats.MostDuplicated, err = d.describe(ctx, top, counts)
	if err != nil {
		return Stats{}, err
	}

	d.logger.Debug("computed deduplication stats",
		"unique_blocks", stats.TotalUniqueBlocks,
		"block_instances", stats.TotalBlockInstances,
		"ratio", stats.DeduplicationRatio,
		"size_source", string(stats.SizeSource),
	)
	return stats, nil
}

// MostDuplicated returns up to limit blocks present in at least two
// documents, highest count first, ties by hash. Only the returned
// blocks are described, so the cost beyond counting is bounded by
// limit.
func (d *Detector) MostDuplicated(ctx context.Context, limit int) ([]DuplicateBlock, error) {
	counts, err := d.store.CountOccurrences(ctx, nil)
	if err != nil {
		return nil, storeError("count occurrences", err)
	}
	return d.describe(ctx, topDuplicated(counts, max(limit, 0)), counts)
}

// TypeCounts aggregates every stored block by type, sorted by type
// name. Stores implementing TypeCounter answer in one call; others are
// scanned in batches of block rows, typed by the row BlocksForHashes
// returns.
func (d *Detector) TypeCounts(ctx context.Context) ([]TypeCount, error) {
	var counts []TypeCount
	if counter, ok := d.store.(TypeCounter); ok {
		aggregated, err := counter.CountByType(ctx)
		if err != nil {
			return nil, storeError("count by type", err)
		}
		counts = aggregated
	} else {
		scanned, err := d.scanTypes(ctx)
		if err != nil {
			return nil, err
		}
		counts = scanned
	}
	if counts == nil {
		counts = []TypeCount{}
	}
	slices.SortFunc(counts, func(a, b TypeCount) int {
		return cmp.Compare(a.Type, b.Type)
	})
	return counts, nil
}

func (d *Detector) scanTypes(ctx context.Context) ([]TypeCount, error) {
	occurrences, err := d.store.CountOccurrences(ctx, nil)
	if err != nil {
		return nil, storeError("count occurrences", err)
	}
	hashes := make([]blockhash.Hash, 0, len(occurrences))
	for hash := range occurrences {
		hashes = append(hashes, hash)
	}

	byType := make(map[block.Type]*TypeCount)
	for batch := range slices.Chunk(hashes, typeScanBatch) {
		records, err := d.store.BlocksForHashes(ctx, batch)
		if err != nil {
			return nil, storeError("blocks for hashes", err)
		}
		for _, hash := range batch {
			record := records[hash]
			blockType := record.Type
			if blockType == "" {
				blockType = block.Other
			}
			count, ok := byType[blockType]
			if !ok {
				count = &TypeCount{Type: blockType}
				byType[blockType] = count
			}
			count.Add(occurrences[hash], record.Size())
		}
	}

	counts := make([]TypeCount, 0, len(byType))
	for _, count := range byType {
		counts = append(counts, *count)
	}
	return counts, nil
}

// StorageUsage computes storage usage figures for the whole store.
func (d *Detector) StorageUsage(ctx context.Context) (StorageUsage, error) {
	counts, err := d.store.CountOccurrences(ctx, nil)
	if err != nil {
		return StorageUsage{}, storeError("count occurrences", err)
	}
	analyzer, err := d.analyzer(ctx)
	if err != nil {
		return StorageUsage{}, err
	}
	return analyzer.Usage(CountsFrom(counts)), nil
}

// analyzer returns the Analyzer for this request: sampled when enabled
// and available, configured otherwise.
func (d *Detector) analyzer(ctx context.Context) (Analyzer, error) {
	analyzer := NewAnalyzer(d.options.AverageBlockSize)
	if !d.options.SampleSizes {
		return analyzer, nil
	}
	sampler, ok := d.store.(SizeSampler)
	if !ok {
		return analyzer, nil
	}
	mean, sampled, err := sampler.AverageContentSize(ctx)
	if err != nil {
		return Analyzer{}, storeError("average content size", err)
	}
	if sampled == 0 {
		return analyzer, nil
	}
	return Analyzer{AverageBlockSize: max(1, int(math.Round(mean))), Source: SizeSampled}, nil
}

// describe builds DuplicateBlock entries for hashes with two batch
// queries. counts supplies the occurrence counts.
func (d *Detector) describe(ctx context.Context, hashes []blockhash.Hash, counts map[blockhash.Hash]int) ([]DuplicateBlock, error) {
	if len(hashes) == 0 {
		return []DuplicateBlock{}, nil
	}

	documents, err := d.store.DocumentsForHashes(ctx, hashes)
	if err != nil {
		return nil, storeError("documents for hashes", err)
	}
	records, err := d.store.BlocksForHashes(ctx, hashes)
	if err != nil {
		return nil, storeError("blocks for hashes", err)
	}

	analyzer := NewAnalyzer(d.options.AverageBlockSize)
	duplicates := make([]DuplicateBlock, 0, len(hashes))
	for _, hash := range hashes {
		duplicate := DuplicateBlock{
			Hash:            hash,
			Documents:       documents[hash],
			OccurrenceCount: counts[hash],
		}
		if duplicate.Documents == nil {
			duplicate.Documents = []string{}
		}
		if record, ok := records[hash]; ok {
			duplicate.ContentPreview = record.Preview(d.options.PreviewLength)
			duplicate.BlockType = record.Type
			duplicate.Size = record.Size()
		}
		duplicate.StorageSaved = analyzer.BlockSavings(duplicate.OccurrenceCount, duplicate.Size)
		duplicates = append(duplicates, duplicate)
	}

	slices.SortFunc(duplicates, func(a, b DuplicateBlock) int {
		if c := cmp.Compare(b.OccurrenceCount, a.OccurrenceCount); c != 0 {
			return c
		}
		return a.Hash.Compare(b.Hash)
	})
	return duplicates, nil
}

// topDuplicated returns up to limit hashes with at least two
// occurrences, highest count first, ties by hash.
func topDuplicated(counts map[blockhash.Hash]int, limit int) []blockhash.Hash {
	var hashes []blockhash.Hash
	for hash, count := range counts {
		if count >= 2 {
			hashes = append(hashes, hash)
		}
	}
	slices.SortFunc(hashes, func(a, b blockhash.Hash) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return a.Compare(b)
	})
	if len(hashes) > limit {
		hashes = hashes[:limit]
	}
	return hashes
}

func distinct(hashes []blockhash.Hash) []blockhash.Hash {
	seen := make(map[blockhash.Hash]struct{}, len(hashes))
	unique := make([]blockhash.Hash, 0, len(hashes))
	for _, hash := range hashes {
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		unique = append(unique, hash)
	}
	return unique
}
