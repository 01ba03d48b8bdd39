// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
)

// BlockRecord is one persisted block occurrence: a block at a position
// in a document.
type BlockRecord struct {
	DocumentID     string         `json:"document_id"`
	Index          int            `json:"index"`
	Hash           blockhash.Hash `json:"hash"`
	Type           block.Type     `json:"block_type"`
	Level          int            `json:"level,omitempty"`
	StartOffset    int            `json:"start_offset"`
	EndOffset      int            `json:"end_offset"`
	IsLastInParent bool           `json:"is_last_in_parent"`
	Content        []byte         `json:"-"`
}

// Size returns the content length in bytes.
func (r BlockRecord) Size() int {
	return len(r.Content)
}

// Preview returns at most maxRunes runes of the content, with "..."
// appended when truncated.
func (r BlockRecord) Preview(maxRunes int) string {
	text := strings.ToValidUTF8(string(r.Content), "�")
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	count := 0
	for offset := range text {
		if count == maxRunes {
			return text[:offset] + "..."
		}
		count++
	}
	return text
}

// RecordFromBlock converts a hashed block into the row stored for
// documentID.
func RecordFromBlock(documentID string, b block.Block) BlockRecord {
	return BlockRecord{
		DocumentID:     documentID,
		Index:          b.Index,
		Hash:           b.Hash,
		Type:           b.Type,
		Level:          b.Level,
		StartOffset:    b.StartOffset,
		EndOffset:      b.EndOffset,
		IsLastInParent: b.IsLastInParent,
		Content:        b.Content,
	}
}

// Store is the backing-store contract the detector reads through.
// Implementations must be safe for concurrent use.
type Store interface {
	// StoreDocumentBlocks replaces documentID's block rows with blocks
	// in order. Storing identical content again is idempotent.
	StoreDocumentBlocks(ctx context.Context, documentID string, blocks []block.Block) error

	// DocumentsForHashes maps each known hash to the sorted, distinct
	// IDs of documents containing it. Unknown hashes are absent.
	DocumentsForHashes(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash][]string, error)

	// BlocksForDocument returns the document's rows ordered by index.
	// Unknown documents yield no rows.
	BlocksForDocument(ctx context.Context, documentID string) ([]BlockRecord, error)

	// BlocksForHashes maps each known hash to one stored row for it.
	BlocksForHashes(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash]BlockRecord, error)

	// CountOccurrences maps each known hash to the number of distinct
	// documents containing it. A nil or empty hashes slice counts
	// every hash in the store.
	CountOccurrences(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash]int, error)
}

// SizeSampler is implemented by stores that can report the mean
// content size of their distinct blocks. sampled is the number of
// blocks the mean covers.
type SizeSampler interface {
	AverageContentSize(ctx context.Context) (mean float64, sampled int, err error)
}

// TypeCount aggregates the distinct blocks of one type. Occurrences
// are distinct-document counts, as everywhere in this package.
type TypeCount struct {
	Type        block.Type `json:"block_type"`
	Unique      int        `json:"unique"`
	Occurrences int        `json:"occurrences"`
	Duplicates  int        `json:"duplicates"`

	// TotalSize sums content sizes over distinct blocks; SavedSize sums
	// (occurrences - 1) × size.
	TotalSize int64 `json:"total_size"`
	SavedSize int64 `json:"saved_size"`
}

// Add folds one distinct block present in occurrences documents with
// size content bytes into c.
func (c *TypeCount) Add(occurrences, size int) {
	c.Unique++
	c.Occurrences += occurrences
	c.Duplicates += occurrences - 1
	c.TotalSize += int64(size)
	c.SavedSize += int64(occurrences-1) * int64(size)
}

// TypeCounter is implemented by stores that aggregate per-type counts
// without returning block rows. A hash stored under several types is
// counted once, under the lexically smallest type name.
type TypeCounter interface {
	CountByType(ctx context.Context) ([]TypeCount, error)
}

// ErrBackingStore matches every [StoreError] via errors.Is.
var ErrBackingStore = errors.New("backing store failure")

// StoreError wraps a failure returned by a [Store].
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("block store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBackingStore) true for any StoreError.
func (e *StoreError) Is(target error) bool {
	return target == ErrBackingStore
}

func storeError(op string, err error) error {
	var existing *StoreError
	if errors.As(err, &existing) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
