// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package memstore is an in-process implementation of the dedup.Store
// contract. It backs tests and the CLI's --memory mode, where nothing
// needs to survive the process.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/dedup"
)

// Store holds block rows in memory, guarded by a read-write mutex so
// concurrent queries never block each other.
type Store struct {
	mu        sync.RWMutex
	documents map[string][]dedup.BlockRecord

	// byHash indexes the set of documents containing each hash.
	byHash map[blockhash.Hash]map[string]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		documents: make(map[string][]dedup.BlockRecord),
		byHash:    make(map[blockhash.Hash]map[string]struct{}),
	}
}

// StoreDocumentBlocks replaces documentID's rows.
func (s *Store) StoreDocumentBlocks(ctx context.Context, documentID string, blocks []block.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := make([]dedup.BlockRecord, len(blocks))
	for i, b := range blocks {
		records[i] = dedup.RecordFromBlock(documentID, b)
		records[i].Content = slices.Clone(b.Content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(documentID)
	if len(records) == 0 {
		return nil
	}
	s.documents[documentID] = records
	for _, record := range records {
		holders, ok := s.byHash[record.Hash]
		if !ok {
			holders = make(map[string]struct{})
			s.byHash[record.Hash] = holders
		}
		holders[documentID] = struct{}{}
	}
	return nil
}

// DeleteDocument removes documentID's rows. Deleting an unknown
// document is a no-op.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(documentID)
	return nil
}

func (s *Store) removeLocked(documentID string) {
	for _, record := range s.documents[documentID] {
		holders := s.byHash[record.Hash]
		delete(holders, documentID)
		if len(holders) == 0 {
			delete(s.byHash, record.Hash)
		}
	}
	delete(s.documents, documentID)
}

// Documents returns every stored document ID, sorted.
func (s *Store) Documents(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// DocumentsForHashes implements dedup.Store.
func (s *Store) DocumentsForHashes(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[blockhash.Hash][]string, len(hashes))
	for _, hash := range hashes {
		holders, ok := s.byHash[hash]
		if !ok {
			continue
		}
		ids := make([]string, 0, len(holders))
		for id := range holders {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		result[hash] = ids
	}
	return result, nil
}

// BlocksForDocument implements dedup.Store.
func (s *Store) BlocksForDocument(ctx context.Context, documentID string) ([]dedup.BlockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.documents[documentID]), nil
}

// BlocksForHashes implements dedup.Store. The row returned for a hash
// comes from the lexically first document containing it.
func (s *Store) BlocksForHashes(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash]dedup.BlockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[blockhash.Hash]dedup.BlockRecord, len(hashes))
	for _, hash := range hashes {
		holders, ok := s.byHash[hash]
		if !ok {
			continue
		}
		first := ""
		for id := range holders {
			if first == "" || id < first {
				first = id
			}
		}
		for _, record := range s.documents[first] {
			if record.Hash == hash {
				result[hash] = record
				break
			}
		}
	}
	return result, nil
}

// CountOccurrences implements dedup.Store.
func (s *Store) CountOccurrences(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(hashes) == 0 {
		result := make(map[blockhash.Hash]int, len(s.byHash))
		for hash, holders := range s.byHash {
			result[hash] = len(holders)
		}
		return result, nil
	}
	result := make(map[blockhash.Hash]int, len(hashes))
	for _, hash := range hashes {
		if holders, ok := s.byHash[hash]; ok {
			result[hash] = len(holders)
		}
	}
	return result, nil
}

// AverageContentSize implements dedup.SizeSampler over distinct
// hashes.
func (s *Store) AverageContentSize(ctx context.Context) (float64, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sizes := make(map[blockhash.Hash]int, len(s.byHash))
	for _, records := range s.documents {
		for _, record := range records {
			sizes[record.Hash] = record.Size()
		}
	}
	if len(sizes) == 0 {
		return 0, 0, nil
	}
	total := 0
	for _, size := range sizes {
		total += size
	}
	return float64(total) / float64(len(sizes)), len(sizes), nil
}

// CountByType implements dedup.TypeCounter.
func (s *Store) CountByType(ctx context.Context) ([]dedup.TypeCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make(map[blockhash.Hash]block.Type, len(s.byHash))
	sizes := make(map[blockhash.Hash]int, len(s.byHash))
	for _, records := range s.documents {
		for _, record := range records {
			if current, ok := types[record.Hash]; !ok || record.Type < current {
				types[record.Hash] = record.Type
			}
			sizes[record.Hash] = record.Size()
		}
	}

	byType := make(map[block.Type]*dedup.TypeCount)
	for hash, holders := range s.byHash {
		count, ok := byType[types[hash]]
		if !ok {
			count = &dedup.TypeCount{Type: types[hash]}
			byType[types[hash]] = count
		}
		count.Add(len(holders), sizes[hash])
	}
	counts := make([]dedup.TypeCount, 0, len(byType))
	for _, count := range byType {
		counts = append(counts, *count)
	}
	return counts, nil
}

var (
	_ dedup.Store       = (*Store)(nil)
	_ dedup.SizeSampler = (*Store)(nil)
	_ dedup.TypeCounter = (*Store)(nil)
)
