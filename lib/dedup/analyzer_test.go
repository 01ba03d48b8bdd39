// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"testing"

	"github.com/bureau-foundation/kiln/lib/blockhash"
)

func TestCountsFrom(t *testing.T) {
	hasher := blockhash.NewBLAKE3()
	counts := CountsFrom(map[blockhash.Hash]int{
		hasher.HashBlock([]byte("a")): 4,
		hasher.HashBlock([]byte("b")): 1,
		hasher.HashBlock([]byte("c")): 2,
	})
	if counts.UniqueBlocks != 3 || counts.BlockInstances != 7 || counts.Duplicates() != 4 {
		t.Errorf("counts = %+v, duplicates %d", counts, counts.Duplicates())
	}
}

func TestAnalyzerStats(t *testing.T) {
	analyzer := NewAnalyzer(0)
	if analyzer.AverageBlockSize != DefaultAverageBlockSize || analyzer.Source != SizeConfigured {
		t.Fatalf("NewAnalyzer(0) = %+v", analyzer)
	}

	stats := analyzer.Stats(Counts{UniqueBlocks: 6, BlockInstances: 10})
	if stats.DuplicateBlocks != 4 || stats.DeduplicationRatio != 0.4 {
		t.Errorf("duplicates %d, ratio %v", stats.DuplicateBlocks, stats.DeduplicationRatio)
	}
	if stats.TotalStorageSaved != 4*1024 {
		t.Errorf("TotalStorageSaved = %d", stats.TotalStorageSaved)
	}

	empty := analyzer.Stats(Counts{})
	if empty.DeduplicationRatio != 0 {
		t.Errorf("empty ratio = %v", empty.DeduplicationRatio)
	}
}

func TestAnalyzerUsage(t *testing.T) {
	usage := NewAnalyzer(500).Usage(Counts{UniqueBlocks: 3, BlockInstances: 4})
	if usage.TotalBlockStorage != 2000 || usage.DeduplicationSavings != 500 {
		t.Errorf("storage %d, savings %d", usage.TotalBlockStorage, usage.DeduplicationSavings)
	}
	if usage.StorageEfficiency != 0.75 || usage.StoredBlockCount != 3 {
		t.Errorf("efficiency %v, stored %d", usage.StorageEfficiency, usage.StoredBlockCount)
	}
	if !usage.Approximate {
		t.Error("usage not marked approximate")
	}
}

func TestBlockSavings(t *testing.T) {
	analyzer := NewAnalyzer(100)
	tests := []struct {
		occurrences, size int
		want              int64
	}{
		{1, 50, 0},
		{2, 50, 50},
		{4, 50, 150},
		{3, 0, 200},
	}
	for _, test := range tests {
		if got := analyzer.BlockSavings(test.occurrences, test.size); got != test.want {
			t.Errorf("BlockSavings(%d, %d) = %d, want %d", test.occurrences, test.size, got, test.want)
		}
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		content string
		limit   int
		want    string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is longer than ten", 10, "this is lo..."},
		{"héllo wörld", 5, "héllo..."},
		{"anything", 0, "anything"},
		{"bad \xff byte", 20, "bad � byte"},
	}
	for _, test := range tests {
		record := BlockRecord{Content: []byte(test.content)}
		if got := record.Preview(test.limit); got != test.want {
			t.Errorf("Preview(%q, %d) = %q, want %q", test.content, test.limit, got, test.want)
		}
	}
}
