// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/compress"
	"github.com/bureau-foundation/kiln/lib/dedup"
)

// MaxQueryParameters bounds the hashes bound into one IN (...) list.
// SQLite's default limit is 32766 on current builds but 999 on older
// ones.
const MaxQueryParameters = 500

const recordColumns = `
	d.document_id, d.block_index, d.block_hash, d.block_type, d.heading_level,
	d.start_offset, d.end_offset, d.is_last, c.codec, c.raw_size, c.data`

// DocumentsForHashes implements dedup.Store.
func (s *Store) DocumentsForHashes(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash][]string, error) {
	result := make(map[blockhash.Hash][]string, len(hashes))
	err := s.readChunked(ctx, hashes, func(conn *sqlite.Conn, chunk []blockhash.Hash) error {
		query := `
			SELECT block_hash, document_id FROM document_blocks
			WHERE block_hash IN (` + placeholders(len(chunk)) + `)
			GROUP BY block_hash, document_id
			ORDER BY block_hash, document_id`
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: hashArgs(chunk),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				hash, err := blockhash.Parse(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				result[hash] = append(result[hash], stmt.ColumnText(1))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: documents for hashes: %w", err)
	}
	return result, nil
}

// BlocksForDocument implements dedup.Store.
func (s *Store) BlocksForDocument(ctx context.Context, documentID string) ([]dedup.BlockRecord, error) {
	var records []dedup.BlockRecord
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		query := `SELECT ` + recordColumns + `
			FROM document_blocks d
			LEFT JOIN block_content c ON c.block_hash = d.block_hash
			WHERE d.document_id = ?
			ORDER BY d.block_index`
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{documentID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: blocks for %s: %w", documentID, err)
	}
	return records, nil
}

// BlocksForHashes implements dedup.Store. The row returned for a hash
// is its lowest-indexed occurrence in the lexically first document
// containing it.
func (s *Store) BlocksForHashes(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash]dedup.BlockRecord, error) {
	result := make(map[blockhash.Hash]dedup.BlockRecord, len(hashes))
	err := s.readChunked(ctx, hashes, func(conn *sqlite.Conn, chunk []blockhash.Hash) error {
		query := `SELECT ` + recordColumns + `
			FROM document_blocks d
			LEFT JOIN block_content c ON c.block_hash = d.block_hash
			WHERE d.block_hash IN (` + placeholders(len(chunk)) + `)
			ORDER BY d.block_hash, d.document_id, d.block_index`
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: hashArgs(chunk),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				hash, err := blockhash.Parse(stmt.ColumnText(2))
				if err != nil {
					return err
				}
				if _, done := result[hash]; done {
					return nil
				}
				record, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				result[hash] = record
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: blocks for hashes: %w", err)
	}
	return result, nil
}

// CountOccurrences implements dedup.Store. Counts are distinct
// documents, not rows.
func (s *Store) CountOccurrences(ctx context.Context, hashes []blockhash.Hash) (map[blockhash.Hash]int, error) {
	result := make(map[blockhash.Hash]int, len(hashes))
	collect := func(stmt *sqlite.Stmt) error {
		hash, err := blockhash.Parse(stmt.ColumnText(0))
		if err != nil {
			return err
		}
		result[hash] = stmt.ColumnInt(1)
		return nil
	}

	var err error
	if len(hashes) == 0 {
		err = s.pool.Read(ctx, func(conn *sqlite.Conn) error {
			return sqlitex.Execute(conn, `
				SELECT block_hash, COUNT(DISTINCT document_id) FROM document_blocks
				GROUP BY block_hash`,
				&sqlitex.ExecOptions{ResultFunc: collect})
		})
	} else {
		err = s.readChunked(ctx, hashes, func(conn *sqlite.Conn, chunk []blockhash.Hash) error {
			query := `
				SELECT block_hash, COUNT(DISTINCT document_id) FROM document_blocks
				WHERE block_hash IN (` + placeholders(len(chunk)) + `)
				GROUP BY block_hash`
			return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
				Args:       hashArgs(chunk),
				ResultFunc: collect,
			})
		})
	}
	if err != nil {
		return nil, fmt.Errorf("blockstore: count occurrences: %w", err)
	}
	return result, nil
}

// readChunked deduplicates hashes and calls fn once per chunk of at
// most MaxQueryParameters, all inside one read snapshot. No hashes
// means no query.
func (s *Store) readChunked(ctx context.Context, hashes []blockhash.Hash, fn func(conn *sqlite.Conn, chunk []blockhash.Hash) error) error {
	unique := slices.Clone(hashes)
	blockhash.Sort(unique)
	unique = slices.Compact(unique)
	if len(unique) == 0 {
		return nil
	}
	return s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		for chunk := range slices.Chunk(unique, MaxQueryParameters) {
			if err := fn(conn, chunk); err != nil {
				return err
			}
		}
		return nil
	})
}

func placeholders(count int) string {
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func hashArgs(hashes []blockhash.Hash) []any {
	args := make([]any, len(hashes))
	for i, hash := range hashes {
		args[i] = hash.String()
	}
	return args
}

// scanRecord reads a row selected with recordColumns.
func scanRecord(stmt *sqlite.Stmt) (dedup.BlockRecord, error) {
	hash, err := blockhash.Parse(stmt.ColumnText(2))
	if err != nil {
		return dedup.BlockRecord{}, err
	}
	record := dedup.BlockRecord{
		DocumentID:     stmt.ColumnText(0),
		Index:          stmt.ColumnInt(1),
		Hash:           hash,
		Type:           block.Type(stmt.ColumnText(3)),
		Level:          stmt.ColumnInt(4),
		StartOffset:    stmt.ColumnInt(5),
		EndOffset:      stmt.ColumnInt(6),
		IsLastInParent: stmt.ColumnInt(7) != 0,
	}
	if stmt.ColumnIsNull(8) {
		return dedup.BlockRecord{}, fmt.Errorf("content for block %s is missing", hash)
	}

	stored := make([]byte, stmt.ColumnLen(10))
	stmt.ColumnBytes(10, stored)
	content, err := compress.Decompress(stored, compress.Tag(stmt.ColumnInt(8)), stmt.ColumnInt(9))
	if err != nil {
		return dedup.BlockRecord{}, fmt.Errorf("block %s: %w", hash, err)
	}
	record.Content = content
	return record, nil
}
