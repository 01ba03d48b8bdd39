// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup_test

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/dedup"
	"github.com/bureau-foundation/kiln/lib/dedup/storetest"
	"github.com/bureau-foundation/kiln/lib/memstore"
	"pgregory.net/rapid"
)

func loadedDetector(t *testing.T, options dedup.Options) (*dedup.Detector, storetest.Corpus) {
	t.Helper()
	corpus := storetest.NewCorpus(blockhash.NewBLAKE3())
	store := memstore.New()
	corpus.Load(t, store)
	return dedup.NewDetector(store, options), corpus
}

func TestFindDuplicateBlocksThreshold(t *testing.T) {
	detector, corpus := loadedDetector(t, dedup.Options{})
	ctx := context.Background()

	three, err := detector.FindDuplicateBlocks(ctx, 3)
	if err != nil {
		t.Fatalf("FindDuplicateBlocks(3): %v", err)
	}
	if len(three) != 1 || three[0].Hash != corpus.Shared {
		t.Fatalf("FindDuplicateBlocks(3) = %v, want only the shared block", three)
	}
	if !slices.Equal(three[0].Documents, []string{"doc-a", "doc-b", "doc-c"}) {
		t.Errorf("Documents = %v", three[0].Documents)
	}
	if three[0].OccurrenceCount != 3 {
		t.Errorf("OccurrenceCount = %d, want 3", three[0].OccurrenceCount)
	}

	two, err := detector.FindDuplicateBlocks(ctx, 2)
	if err != nil {
		t.Fatalf("FindDuplicateBlocks(2): %v", err)
	}
	got := make([]blockhash.Hash, len(two))
	for i, duplicate := range two {
		got[i] = duplicate.Hash
	}
	blockhash.Sort(got)
	want := []blockhash.Hash{corpus.Shared, corpus.Pair}
	blockhash.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("FindDuplicateBlocks(2) hashes = %v, want %v", got, want)
	}
}

func TestDuplicateBlockDetails(t *testing.T) {
	detector, corpus := loadedDetector(t, dedup.Options{PreviewLength: 10})

	duplicates, err := detector.FindDuplicateBlocks(context.Background(), 2)
	if err != nil {
		t.Fatalf("FindDuplicateBlocks: %v", err)
	}
	var shared dedup.DuplicateBlock
	for _, duplicate := range duplicates {
		if duplicate.Hash == corpus.Shared {
			shared = duplicate
		}
	}
	if shared.ContentPreview != storetest.SharedContent[:10]+"..." {
		t.Errorf("ContentPreview = %q", shared.ContentPreview)
	}
	if shared.BlockType != block.Paragraph {
		t.Errorf("BlockType = %q", shared.BlockType)
	}
	if shared.Size != len(storetest.SharedContent) {
		t.Errorf("Size = %d, want %d", shared.Size, len(storetest.SharedContent))
	}
	if want := int64(2 * len(storetest.SharedContent)); shared.StorageSaved != want {
		t.Errorf("StorageSaved = %d, want %d", shared.StorageSaved, want)
	}
}

func TestAllStats(t *testing.T) {
	detector, corpus := loadedDetector(t, dedup.Options{})

	stats, err := detector.AllStats(context.Background())
	if err != nil {
		t.Fatalf("AllStats: %v", err)
	}
	if stats.TotalUniqueBlocks != 5 || stats.TotalBlockInstances != 8 || stats.DuplicateBlocks != 3 {
		t.Errorf("counts = unique %d, instances %d, duplicates %d, want 5, 8, 3",
			stats.TotalUniqueBlocks, stats.TotalBlockInstances, stats.DuplicateBlocks)
	}
	if stats.DeduplicationRatio != 3.0/8.0 {
		t.Errorf("DeduplicationRatio = %v, want 0.375", stats.DeduplicationRatio)
	}
	if stats.TotalStorageSaved != 3*dedup.DefaultAverageBlockSize {
		t.Errorf("TotalStorageSaved = %d", stats.TotalStorageSaved)
	}
	if stats.SizeSource != dedup.SizeConfigured {
		t.Errorf("SizeSource = %q", stats.SizeSource)
	}
	if len(stats.MostDuplicated) != 2 || stats.MostDuplicated[0].Hash != corpus.Shared {
		t.Errorf("MostDuplicated = %+v", stats.MostDuplicated)
	}
}

func TestAllStatsTopDuplicatesLimit(t *testing.T) {
	detector, corpus := loadedDetector(t, dedup.Options{TopDuplicates: 1})
	stats, err := detector.AllStats(context.Background())
	if err != nil {
		t.Fatalf("AllStats: %v", err)
	}
	if len(stats.MostDuplicated) != 1 || stats.MostDuplicated[0].Hash != corpus.Shared {
		t.Errorf("MostDuplicated = %+v", stats.MostDuplicated)
	}
}

func TestStorageUsage(t *testing.T) {
	detector, _ := loadedDetector(t, dedup.Options{AverageBlockSize: 256})

	usage, err := detector.StorageUsage(context.Background())
	if err != nil {
		t.Fatalf("StorageUsage: %v", err)
	}
	if usage.TotalBlockStorage != 8*256 || usage.DeduplicationSavings != 3*256 {
		t.Errorf("storage = %d, savings = %d", usage.TotalBlockStorage, usage.DeduplicationSavings)
	}
	if usage.StoredBlockCount != 5 || usage.StorageEfficiency != 5.0/8.0 {
		t.Errorf("stored = %d, efficiency = %v", usage.StoredBlockCount, usage.StorageEfficiency)
	}
	if !usage.Approximate || usage.AverageBlockSize != 256 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestSampledSizes(t *testing.T) {
	detector, _ := loadedDetector(t, dedup.Options{SampleSizes: true})

	usage, err := detector.StorageUsage(context.Background())
	if err != nil {
		t.Fatalf("StorageUsage: %v", err)
	}
	if usage.SizeSource != dedup.SizeSampled {
		t.Errorf("SizeSource = %q, want sampled", usage.SizeSource)
	}
	if usage.AverageBlockSize == dedup.DefaultAverageBlockSize || usage.AverageBlockSize <= 0 {
		t.Errorf("AverageBlockSize = %d, want the sampled mean", usage.AverageBlockSize)
	}
}

func TestEmptyCorpus(t *testing.T) {
	detector := dedup.NewDetector(memstore.New(), dedup.Options{SampleSizes: true})
	ctx := context.Background()

	stats, err := detector.AllStats(ctx)
	if err != nil {
		t.Fatalf("AllStats: %v", err)
	}
	if stats.DeduplicationRatio != 0 || stats.TotalBlockInstances != 0 || len(stats.MostDuplicated) != 0 {
		t.Errorf("empty stats = %+v", stats)
	}
	if stats.SizeSource != dedup.SizeConfigured {
		t.Errorf("empty store sampled sizes: %q", stats.SizeSource)
	}

	usage, err := detector.StorageUsage(ctx)
	if err != nil {
		t.Fatalf("StorageUsage: %v", err)
	}
	if usage.StorageEfficiency != 1.0 {
		t.Errorf("StorageEfficiency = %v, want 1.0", usage.StorageEfficiency)
	}

	duplicates, err := detector.FindDuplicateBlocks(ctx, 2)
	if err != nil || len(duplicates) != 0 {
		t.Errorf("FindDuplicateBlocks = %v, %v", duplicates, err)
	}
}

func TestSingleQueries(t *testing.T) {
	detector, corpus := loadedDetector(t, dedup.Options{})
	ctx := context.Background()
	unknown := blockhash.NewBLAKE3().HashBlock([]byte("unknown"))

	documents, err := detector.FindDocumentsWithBlock(ctx, unknown)
	if err != nil {
		t.Fatalf("FindDocumentsWithBlock: %v", err)
	}
	if documents == nil || len(documents) != 0 {
		t.Errorf("unknown hash documents = %#v, want empty non-nil", documents)
	}

	record, err := detector.BlockByHash(ctx, unknown)
	if err != nil || record != nil {
		t.Errorf("BlockByHash(unknown) = %v, %v", record, err)
	}
	record, err = detector.BlockByHash(ctx, corpus.OnlyC)
	if err != nil || record == nil || record.Type != block.Code {
		t.Errorf("BlockByHash(onlyC) = %+v, %v", record, err)
	}

	blocks, err := detector.DocumentBlocks(ctx, "doc-a")
	if err != nil {
		t.Fatalf("DocumentBlocks: %v", err)
	}
	if len(blocks) != 3 || blocks[0].Hash != corpus.Shared || blocks[2].Hash != corpus.OnlyA {
		t.Errorf("doc-a blocks = %+v", blocks)
	}
	blocks, err = detector.DocumentBlocks(ctx, "doc-unknown")
	if err != nil || blocks == nil || len(blocks) != 0 {
		t.Errorf("unknown document blocks = %#v, %v", blocks, err)
	}

	count, err := detector.OccurrenceCount(ctx, corpus.Pair)
	if err != nil || count != 2 {
		t.Errorf("OccurrenceCount(pair) = %d, %v", count, err)
	}
}

func TestBatchMatchesSingle(t *testing.T) {
	detector, corpus := loadedDetector(t, dedup.Options{})
	ctx := context.Background()
	unknown := blockhash.NewBLAKE3().HashBlock([]byte("unknown"))
	hashes := []blockhash.Hash{corpus.Shared, corpus.OnlyB, unknown, corpus.Shared}

	documents, err := detector.FindDocumentsWithBlocks(ctx, hashes)
	if err != nil {
		t.Fatalf("FindDocumentsWithBlocks: %v", err)
	}
	counts, err := detector.BlockDeduplicationStats(ctx, hashes)
	if err != nil {
		t.Fatalf("BlockDeduplicationStats: %v", err)
	}
	records, err := detector.BlocksByHashes(ctx, hashes)
	if err != nil {
		t.Fatalf("BlocksByHashes: %v", err)
	}

	for _, hash := range hashes {
		single, err := detector.FindDocumentsWithBlock(ctx, hash)
		if err != nil {
			t.Fatalf("FindDocumentsWithBlock: %v", err)
		}
		if !slices.Equal(documents[hash], single) {
			t.Errorf("%s: batch documents %v, single %v", hash, documents[hash], single)
		}

		count, err := detector.OccurrenceCount(ctx, hash)
		if err != nil {
			t.Fatalf("OccurrenceCount: %v", err)
		}
		if counts[hash] != count {
			t.Errorf("%s: batch count %d, single %d", hash, counts[hash], count)
		}

		record, err := detector.BlockByHash(ctx, hash)
		if err != nil {
			t.Fatalf("BlockByHash: %v", err)
		}
		batchRecord, inBatch := records[hash]
		if (record != nil) != inBatch {
			t.Errorf("%s: batch presence %v, single %v", hash, inBatch, record != nil)
		}
		if record != nil && batchRecord.Hash != record.Hash {
			t.Errorf("%s: batch record hash %s", hash, batchRecord.Hash)
		}
	}
	if len(documents) != 3 || len(counts) != 3 {
		t.Errorf("batch results keyed by %d and %d hashes, want 3 distinct", len(documents), len(counts))
	}
}

// countingStore records how many store calls the detector makes.
type countingStore struct {
	dedup.Store
	calls int
}

func (s *countingStore) DocumentsForHashes(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash][]string, error) {
	s.calls++
	return s.Store.DocumentsForHashes(ctx, hashes)
}

func (s *countingStore) BlocksForHashes(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash]dedup.BlockRecord, error) {
	s.calls++
	return s.Store.BlocksForHashes(ctx, hashes)
}

func (s *countingStore) CountOccurrences(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash]int, error) {
	s.calls++
	return s.Store.CountOccurrences(ctx, hashes)
}

func TestBatchIsOneRoundTrip(t *testing.T) {
	corpus := storetest.NewCorpus(blockhash.NewBLAKE3())
	inner := memstore.New()
	corpus.Load(t, inner)
	store := &countingStore{Store: inner}
	detector := dedup.NewDetector(store, dedup.Options{})
	ctx := context.Background()
	hashes := []blockhash.Hash{corpus.Shared, corpus.Pair, corpus.OnlyA}

	if _, err := detector.FindDocumentsWithBlocks(ctx, hashes); err != nil {
		t.Fatal(err)
	}
	if _, err := detector.BlocksByHashes(ctx, hashes); err != nil {
		t.Fatal(err)
	}
	if _, err := detector.BlockDeduplicationStats(ctx, hashes); err != nil {
		t.Fatal(err)
	}
	if store.calls != 3 {
		t.Errorf("three batch queries made %d store calls, want 3", store.calls)
	}

	store.calls = 0
	emptyDocuments, err := detector.FindDocumentsWithBlocks(ctx, nil)
	if err != nil || emptyDocuments == nil || len(emptyDocuments) != 0 {
		t.Errorf("FindDocumentsWithBlocks(nil) = %v, %v", emptyDocuments, err)
	}
	emptyRecords, err := detector.BlocksByHashes(ctx, []blockhash.Hash{})
	if err != nil || emptyRecords == nil || len(emptyRecords) != 0 {
		t.Errorf("BlocksByHashes(empty) = %v, %v", emptyRecords, err)
	}
	emptyCounts, err := detector.BlockDeduplicationStats(ctx, nil)
	if err != nil || emptyCounts == nil || len(emptyCounts) != 0 {
		t.Errorf("BlockDeduplicationStats(nil) = %v, %v", emptyCounts, err)
	}
	if store.calls != 0 {
		t.Errorf("empty batches made %d store calls", store.calls)
	}
}

func TestMostDuplicated(t *testing.T) {
	detector, corpus := loadedDetector(t, dedup.Options{})
	ctx := context.Background()

	top, err := detector.MostDuplicated(ctx, 1)
	if err != nil {
		t.Fatalf("MostDuplicated: %v", err)
	}
	if len(top) != 1 || top[0].Hash != corpus.Shared || top[0].OccurrenceCount != 3 {
		t.Errorf("MostDuplicated(1) = %+v", top)
	}
	if top[0].ContentPreview != storetest.SharedContent {
		t.Errorf("ContentPreview = %q", top[0].ContentPreview)
	}

	all, err := detector.MostDuplicated(ctx, 10)
	if err != nil {
		t.Fatalf("MostDuplicated: %v", err)
	}
	if len(all) != 2 || all[1].Hash != corpus.Pair {
		t.Errorf("MostDuplicated(10) = %+v, want shared then pair", all)
	}
}

func TestTypeCounts(t *testing.T) {
	corpus := storetest.NewCorpus(blockhash.NewBLAKE3())
	store := memstore.New()
	corpus.Load(t, store)
	ctx := context.Background()

	shared := int64(len(storetest.SharedContent))
	pair := int64(len(storetest.PairContent))
	want := []dedup.TypeCount{
		{Type: block.Code, Unique: 1, Occurrences: 1, Duplicates: 0, TotalSize: int64(len("func onlyC() {}"))},
		{Type: block.Heading, Unique: 1, Occurrences: 2, Duplicates: 1, TotalSize: pair, SavedSize: pair},
		{Type: block.Paragraph, Unique: 3, Occurrences: 5, Duplicates: 2, TotalSize: shared + 2*int64(len("only in a")), SavedSize: 2 * shared},
	}

	// countingStore hides CountByType, so the second detector scans.
	for name, detector := range map[string]*dedup.Detector{
		"aggregated": dedup.NewDetector(store, dedup.Options{}),
		"scanned":    dedup.NewDetector(&countingStore{Store: store}, dedup.Options{}),
	} {
		got, err := detector.TypeCounts(ctx)
		if err != nil {
			t.Fatalf("%s: TypeCounts: %v", name, err)
		}
		if !slices.Equal(got, want) {
			t.Errorf("%s: TypeCounts = %+v, want %+v", name, got, want)
		}
	}

	empty, err := dedup.NewDetector(memstore.New(), dedup.Options{}).TypeCounts(ctx)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("TypeCounts on empty store = %v, %v", empty, err)
	}
}

// failingStore fails every call.
type failingStore struct{ err error }

func (s failingStore) StoreDocumentBlocks(context.Context, string, []block.Block) error {
	return s.err
}

func (s failingStore) DocumentsForHashes(context.Context, []blockhash.Hash) (map[blockhash.Hash][]string, error) {
	return nil, s.err
}

func (s failingStore) BlocksForDocument(context.Context, string) ([]dedup.BlockRecord, error) {
	return nil, s.err
}

func (s failingStore) BlocksForHashes(context.Context, []blockhash.Hash) (map[blockhash.Hash]dedup.BlockRecord, error) {
	return nil, s.err
}

func (s failingStore) CountOccurrences(context.Context, []blockhash.Hash) (map[blockhash.Hash]int, error) {
	return nil, s.err
}

func TestBackingStoreErrorsPropagate(t *testing.T) {
	cause := errors.New("disk I/O error")
	detector := dedup.NewDetector(failingStore{err: cause}, dedup.Options{})
	ctx := context.Background()
	hash := blockhash.NewBLAKE3().HashBlock([]byte("x"))

	calls := map[string]func() error{
		"FindDocumentsWithBlock": func() error { _, err := detector.FindDocumentsWithBlock(ctx, hash); return err },
		"DocumentBlocks":         func() error { _, err := detector.DocumentBlocks(ctx, "doc"); return err },
		"BlockByHash":            func() error { _, err := detector.BlockByHash(ctx, hash); return err },
		"FindDuplicateBlocks":    func() error { _, err := detector.FindDuplicateBlocks(ctx, 2); return err },
		"AllStats":               func() error { _, err := detector.AllStats(ctx); return err },
		"StorageUsage":           func() error { _, err := detector.StorageUsage(ctx); return err },
		"MostDuplicated":         func() error { _, err := detector.MostDuplicated(ctx, 5); return err },
		"TypeCounts":             func() error { _, err := detector.TypeCounts(ctx); return err },
		"BlockDeduplicationStats": func() error {
			_, err := detector.BlockDeduplicationStats(ctx, []blockhash.Hash{hash})
			return err
		},
	}
	for _, name := range slices.Sorted(maps.Keys(calls)) {
		err := calls[name]()
		if !errors.Is(err, dedup.ErrBackingStore) {
			t.Errorf("%s: error %v does not match ErrBackingStore", name, err)
		}
		if !errors.Is(err, cause) {
			t.Errorf("%s: error %v does not wrap the store's error", name, err)
		}
		var storeErr *dedup.StoreError
		if errors.As(err, &storeErr) && strings.Count(err.Error(), "block store") != 1 {
			t.Errorf("%s: error double-wrapped: %v", name, err)
		}
	}
}

func TestStatsInvariantsProperty(t *testing.T) {
	hasher := blockhash.NewBLAKE3()
	rapid.Check(t, func(t *rapid.T) {
		store := memstore.New()
		vocabulary := rapid.IntRange(1, 12).Draw(t, "vocabulary")
		documentCount := rapid.IntRange(0, 8).Draw(t, "documents")
		for d := range documentCount {
			words := rapid.SliceOfN(rapid.IntRange(0, vocabulary-1), 0, 10).Draw(t, "words")
			blocks := make([]block.Block, len(words))
			for i, word := range words {
				blocks[i] = block.FromData([]byte{byte(word)}, i, i, i == len(words)-1, hasher)
			}
			if err := store.StoreDocumentBlocks(context.Background(), string(rune('a'+d)), blocks); err != nil {
				t.Fatal(err)
			}
		}

		stats, err := dedup.NewDetector(store, dedup.Options{}).AllStats(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if stats.TotalBlockInstances != stats.TotalUniqueBlocks+stats.DuplicateBlocks {
			t.Fatalf("instances %d != unique %d + duplicates %d",
				stats.TotalBlockInstances, stats.TotalUniqueBlocks, stats.DuplicateBlocks)
		}
		if stats.DeduplicationRatio < 0 || stats.DeduplicationRatio > 1 {
			t.Fatalf("ratio %v out of [0, 1]", stats.DeduplicationRatio)
		}
	})
}
