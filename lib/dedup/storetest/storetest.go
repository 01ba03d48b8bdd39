// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storetest is a conformance suite for dedup.Store
// implementations. Each store package runs it from its own tests:
//
//	func TestContract(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) dedup.Store { return memstore.New() })
//	}
package storetest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/dedup"
)

// Corpus is a small fixture with known duplication:
//
//	doc-a: shared, pair, only-a
//	doc-b: shared, pair, only-b
//	doc-c: shared, only-c, shared
//
// shared is in three documents (twice in doc-c, counted once), pair in
// two, the rest in one.
type Corpus struct {
	Shared, Pair, OnlyA, OnlyB, OnlyC blockhash.Hash
	Documents                         map[string][]block.Block
}

// Content strings used by the fixture.
const (
	SharedContent = "Shared boilerplate paragraph that appears in every note."
	PairContent   = "## References"
)

// NewCorpus hashes the fixture with hasher.
func NewCorpus(hasher blockhash.Hasher) Corpus {
	build := func(inputs ...block.Input) []block.Block {
		offset := 0
		for i := range inputs {
			inputs[i].StartOffset = offset
			offset += len(inputs[i].Content) + 2
		}
		inputs[len(inputs)-1].IsLastInParent = true
		blocks, _ := block.HashAll(inputs, hasher, block.Limits{})
		return blocks
	}
	shared := block.Input{Content: []byte(SharedContent), Type: block.Paragraph}
	pair := block.Input{Content: []byte(PairContent), Type: block.Heading, Level: 2}

	corpus := Corpus{
		Shared: hasher.HashBlock([]byte(SharedContent)),
		Pair:   hasher.HashBlock([]byte(PairContent)),
		OnlyA:  hasher.HashBlock([]byte("only in a")),
		OnlyB:  hasher.HashBlock([]byte("only in b")),
		OnlyC:  hasher.HashBlock([]byte("func onlyC() {}")),
		Documents: map[string][]block.Block{
			"doc-a": build(shared, pair, block.Input{Content: []byte("only in a")}),
			"doc-b": build(shared, pair, block.Input{Content: []byte("only in b")}),
			"doc-c": build(shared, block.Input{Content: []byte("func onlyC() {}"), Type: block.Code}, shared),
		},
	}
	return corpus
}

// Load stores every corpus document.
func (c Corpus) Load(t *testing.T, store dedup.Store) {
	t.Helper()
	for _, id := range []string{"doc-a", "doc-b", "doc-c"} {
		if err := store.StoreDocumentBlocks(context.Background(), id, c.Documents[id]); err != nil {
			t.Fatalf("StoreDocumentBlocks(%s): %v", id, err)
		}
	}
}

// Run exercises the dedup.Store contract against stores built by
// newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) dedup.Store) {
	hasher := blockhash.NewBLAKE3()
	corpus := NewCorpus(hasher)
	ctx := context.Background()
	unknown := hasher.HashBlock([]byte("never stored"))

	t.Run("DocumentsForHashes", func(t *testing.T) {
		store := newStore(t)
		corpus.Load(t, store)

		found, err := store.DocumentsForHashes(ctx, []blockhash.Hash{corpus.Shared, corpus.Pair, unknown})
		if err != nil {
			t.Fatalf("DocumentsForHashes: %v", err)
		}
		if got := found[corpus.Shared]; !slices.Equal(got, []string{"doc-a", "doc-b", "doc-c"}) {
			t.Errorf("shared in %v", got)
		}
		if got := found[corpus.Pair]; !slices.Equal(got, []string{"doc-a", "doc-b"}) {
			t.Errorf("pair in %v", got)
		}
		if _, ok := found[unknown]; ok {
			t.Error("unknown hash present in result")
		}
	})

	t.Run("BlocksForDocument", func(t *testing.T) {
		store := newStore(t)
		corpus.Load(t, store)

		records, err := store.BlocksForDocument(ctx, "doc-c")
		if err != nil {
			t.Fatalf("BlocksForDocument: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("len(records) = %d, want 3", len(records))
		}
		want := corpus.Documents["doc-c"]
		for i, record := range records {
			if record.Index != i || record.Hash != want[i].Hash || record.DocumentID != "doc-c" {
				t.Errorf("records[%d] = index %d hash %s doc %s", i, record.Index, record.Hash, record.DocumentID)
			}
			if string(record.Content) != string(want[i].Content) {
				t.Errorf("records[%d].Content = %q", i, record.Content)
			}
			if record.StartOffset != want[i].StartOffset || record.EndOffset != want[i].EndOffset {
				t.Errorf("records[%d] offsets = [%d, %d)", i, record.StartOffset, record.EndOffset)
			}
			if record.Type != want[i].Type {
				t.Errorf("records[%d].Type = %q, want %q", i, record.Type, want[i].Type)
			}
		}
		if !records[2].IsLastInParent {
			t.Error("last block lost IsLastInParent")
		}

		missing, err := store.BlocksForDocument(ctx, "doc-missing")
		if err != nil {
			t.Fatalf("BlocksForDocument(missing): %v", err)
		}
		if len(missing) != 0 {
			t.Errorf("unknown document has %d rows", len(missing))
		}
	})

	t.Run("BlocksForHashes", func(t *testing.T) {
		store := newStore(t)
		corpus.Load(t, store)

		records, err := store.BlocksForHashes(ctx, []blockhash.Hash{corpus.Pair, corpus.OnlyC, unknown})
		if err != nil {
			t.Fatalf("BlocksForHashes: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("len(records) = %d, want 2", len(records))
		}
		if records[corpus.Pair].Type != block.Heading || records[corpus.Pair].Level != 2 {
			t.Errorf("pair record = %+v", records[corpus.Pair])
		}
		if string(records[corpus.OnlyC].Content) != "func onlyC() {}" {
			t.Errorf("onlyC content = %q", records[corpus.OnlyC].Content)
		}
	})

	t.Run("CountOccurrences", func(t *testing.T) {
		store := newStore(t)
		corpus.Load(t, store)

		all, err := store.CountOccurrences(ctx, nil)
		if err != nil {
			t.Fatalf("CountOccurrences(nil): %v", err)
		}
		want := map[blockhash.Hash]int{
			corpus.Shared: 3, corpus.Pair: 2,
			corpus.OnlyA: 1, corpus.OnlyB: 1, corpus.OnlyC: 1,
		}
		if len(all) != len(want) {
			t.Errorf("len(all) = %d, want %d", len(all), len(want))
		}
		for hash, count := range want {
			if all[hash] != count {
				t.Errorf("count(%s) = %d, want %d", hash, all[hash], count)
			}
		}

		some, err := store.CountOccurrences(ctx, []blockhash.Hash{corpus.Pair, unknown})
		if err != nil {
			t.Fatalf("CountOccurrences: %v", err)
		}
		if some[corpus.Pair] != 2 || some[unknown] != 0 {
			t.Errorf("counts = %v", some)
		}
	})

	t.Run("ReplaceDocument", func(t *testing.T) {
		store := newStore(t)
		corpus.Load(t, store)

		// doc-b drops the shared paragraph.
		replacement := []block.Block{block.FromData([]byte("only in b"), 0, 0, true, hasher)}
		if err := store.StoreDocumentBlocks(ctx, "doc-b", replacement); err != nil {
			t.Fatalf("StoreDocumentBlocks: %v", err)
		}
		counts, err := store.CountOccurrences(ctx, []blockhash.Hash{corpus.Shared, corpus.Pair})
		if err != nil {
			t.Fatalf("CountOccurrences: %v", err)
		}
		if counts[corpus.Shared] != 2 || counts[corpus.Pair] != 1 {
			t.Errorf("after replace: shared %d, pair %d, want 2, 1", counts[corpus.Shared], counts[corpus.Pair])
		}
		records, err := store.BlocksForDocument(ctx, "doc-b")
		if err != nil {
			t.Fatalf("BlocksForDocument: %v", err)
		}
		if len(records) != 1 {
			t.Errorf("doc-b has %d rows after replace, want 1", len(records))
		}
	})

	t.Run("StoreIsIdempotent", func(t *testing.T) {
		store := newStore(t)
		corpus.Load(t, store)
		corpus.Load(t, store)

		counts, err := store.CountOccurrences(ctx, nil)
		if err != nil {
			t.Fatalf("CountOccurrences: %v", err)
		}
		if counts[corpus.Shared] != 3 || len(counts) != 5 {
			t.Errorf("after reload: shared %d, %d hashes", counts[corpus.Shared], len(counts))
		}
	})

	t.Run("EmptyStore", func(t *testing.T) {
		store := newStore(t)
		counts, err := store.CountOccurrences(ctx, nil)
		if err != nil {
			t.Fatalf("CountOccurrences: %v", err)
		}
		if len(counts) != 0 {
			t.Errorf("empty store counts %v", counts)
		}
		found, err := store.DocumentsForHashes(ctx, []blockhash.Hash{unknown})
		if err != nil || len(found) != 0 {
			t.Errorf("DocumentsForHashes on empty store = %v, %v", found, err)
		}
	})

	t.Run("ConcurrentReads", func(t *testing.T) {
		store := newStore(t)
		corpus.Load(t, store)

		var waitGroup sync.WaitGroup
		errs := make(chan error, 16)
		for i := range 16 {
			waitGroup.Add(1)
			go func() {
				defer waitGroup.Done()
				counts, err := store.CountOccurrences(ctx, nil)
				if err != nil {
					errs <- err
					return
				}
				if counts[corpus.Shared] != 3 {
					errs <- fmt.Errorf("reader %d: shared count %d", i, counts[corpus.Shared])
				}
			}()
		}
		waitGroup.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
	})
}
