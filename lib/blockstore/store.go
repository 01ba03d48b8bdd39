// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/clock"
	"github.com/bureau-foundation/kiln/lib/compress"
	"github.com/bureau-foundation/kiln/lib/dedup"
	"github.com/bureau-foundation/kiln/lib/sqlitepool"
)

// migrations are applied in order by sqlitepool. Never edit an
// existing entry; append a new one.
var migrations = []string{
	`
CREATE TABLE document_blocks (
	document_id   TEXT    NOT NULL,
	block_index   INTEGER NOT NULL,
	block_hash    TEXT    NOT NULL,
	block_type    TEXT    NOT NULL,
	heading_level INTEGER NOT NULL DEFAULT 0,
	start_offset  INTEGER NOT NULL,
	end_offset    INTEGER NOT NULL,
	is_last       INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (document_id, block_index)
) WITHOUT ROWID;

CREATE INDEX document_blocks_by_hash ON document_blocks (block_hash, document_id);

CREATE TABLE block_content (
	block_hash TEXT    PRIMARY KEY,
	codec      INTEGER NOT NULL,
	raw_size   INTEGER NOT NULL,
	data       BLOB
) WITHOUT ROWID;

CREATE TABLE trees (
	tree_id       TEXT    PRIMARY KEY,
	root_hash     TEXT    NOT NULL,
	algorithm     TEXT    NOT NULL,
	section_count INTEGER NOT NULL,
	total_blocks  INTEGER NOT NULL,
	virtualized   INTEGER NOT NULL,
	virtual_count INTEGER NOT NULL,
	threshold     INTEGER NOT NULL,
	group_size    INTEGER NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
) WITHOUT ROWID;

CREATE TABLE tree_sections (
	tree_id       TEXT    NOT NULL,
	section_index INTEGER NOT NULL,
	section_hash  TEXT    NOT NULL,
	heading       TEXT,
	depth         INTEGER NOT NULL,
	start_block   INTEGER NOT NULL,
	end_block     INTEGER NOT NULL,
	data          BLOB    NOT NULL,
	PRIMARY KEY (tree_id, section_index)
) WITHOUT ROWID;

CREATE TABLE tree_virtual_sections (
	tree_id         TEXT    NOT NULL,
	virtual_index   INTEGER NOT NULL,
	virtual_hash    TEXT    NOT NULL,
	primary_heading TEXT,
	primary_level   INTEGER NOT NULL DEFAULT 0,
	min_depth       INTEGER NOT NULL,
	max_depth       INTEGER NOT NULL,
	section_count   INTEGER NOT NULL,
	total_blocks    INTEGER NOT NULL,
	start_index     INTEGER NOT NULL,
	end_index       INTEGER NOT NULL,
	PRIMARY KEY (tree_id, virtual_index)
) WITHOUT ROWID;
`,
}

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize is passed to sqlitepool. Zero picks its default.
	PoolSize int

	// Compression is the preferred encoding for new content rows.
	// Short or incompressible blocks are stored uncompressed
	// regardless.
	Compression compress.Tag

	// Clock stamps updated_at and created_at. Required.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger
}

// Store is a SQLite-backed block store. Safe for concurrent use.
type Store struct {
	pool        *sqlitepool.Pool
	compression compress.Tag
	clock       clock.Clock
	logger      *slog.Logger
}

// Open opens or creates the database at cfg.Path and brings its schema
// up to date.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("blockstore: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:       cfg.Path,
		PoolSize:   cfg.PoolSize,
		Migrations: migrations,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: %w", err)
	}
	return &Store{
		pool:        pool,
		compression: cfg.Compression,
		clock:       cfg.Clock,
		logger:      logger,
	}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

type encodedContent struct {
	tag     compress.Tag
	rawSize int
	data    []byte
}

// StoreDocumentBlocks replaces documentID's rows with blocks in one
// transaction. Content for hashes already in the store is not
// rewritten; content no longer referenced by any document is removed.
func (s *Store) StoreDocumentBlocks(ctx context.Context, documentID string, blocks []block.Block) error {
	// Compress outside the write lock.
	contents := make(map[blockhash.Hash]encodedContent, len(blocks))
	for _, b := range blocks {
		if _, seen := contents[b.Hash]; seen {
			continue
		}
		data, tag, err := compress.Auto(b.Content, s.compression)
		if err != nil {
			return fmt.Errorf("blockstore: compressing block %s: %w", b.Hash, err)
		}
		contents[b.Hash] = encodedContent{tag: tag, rawSize: len(b.Content), data: data}
	}

	now := s.clock.Now().UnixNano()
	var pruned int
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		previous, err := documentHashes(conn, documentID)
		if err != nil {
			return err
		}
		if err := sqlitex.Execute(conn, "DELETE FROM document_blocks WHERE document_id = ?", &sqlitex.ExecOptions{
			Args: []any{documentID},
		}); err != nil {
			return fmt.Errorf("blockstore: clearing %s: %w", documentID, err)
		}

		for _, b := range blocks {
			err := sqlitex.Execute(conn, `
				INSERT INTO document_blocks
					(document_id, block_index, block_hash, block_type, heading_level,
					 start_offset, end_offset, is_last, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (document_id, block_index) DO UPDATE SET
					block_hash = excluded.block_hash,
					block_type = excluded.block_type,
					heading_level = excluded.heading_level,
					start_offset = excluded.start_offset,
					end_offset = excluded.end_offset,
					is_last = excluded.is_last,
					updated_at = excluded.updated_at`,
				&sqlitex.ExecOptions{Args: []any{
					documentID, b.Index, b.Hash.String(), string(b.Type), b.Level,
					b.StartOffset, b.EndOffset, b.IsLastInParent, now,
				}})
			if err != nil {
				return fmt.Errorf("blockstore: inserting %s block %d: %w", documentID, b.Index, err)
			}
		}

		for hash, content := range contents {
			err := sqlitex.Execute(conn, `
				INSERT INTO block_content (block_hash, codec, raw_size, data)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (block_hash) DO NOTHING`,
				&sqlitex.ExecOptions{Args: []any{
					hash.String(), int(content.tag), content.rawSize, content.data,
				}})
			if err != nil {
				return fmt.Errorf("blockstore: storing content %s: %w", hash, err)
			}
		}

		for hash := range previous {
			if _, kept := contents[hash]; kept {
				continue
			}
			removed, err := pruneContent(conn, hash)
			if err != nil {
				return err
			}
			if removed {
				pruned++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("stored document blocks",
		"document_id", documentID,
		"blocks", len(blocks),
		"distinct_hashes", len(contents),
		"pruned_content", pruned,
	)
	return nil
}

// DeleteDocument removes documentID's rows and any content only it
// referenced. Deleting an unknown document is a no-op.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		previous, err := documentHashes(conn, documentID)
		if err != nil {
			return err
		}
		if err := sqlitex.Execute(conn, "DELETE FROM document_blocks WHERE document_id = ?", &sqlitex.ExecOptions{
			Args: []any{documentID},
		}); err != nil {
			return fmt.Errorf("blockstore: deleting %s: %w", documentID, err)
		}
		for hash := range previous {
			if _, err := pruneContent(conn, hash); err != nil {
				return err
			}
		}
		return nil
	})
}

func documentHashes(conn *sqlite.Conn, documentID string) (map[blockhash.Hash]struct{}, error) {
	hashes := make(map[blockhash.Hash]struct{})
	err := sqlitex.Execute(conn, "SELECT DISTINCT block_hash FROM document_blocks WHERE document_id = ?", &sqlitex.ExecOptions{
		Args: []any{documentID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			hash, err := blockhash.Parse(stmt.ColumnText(0))
			if err != nil {
				return err
			}
			hashes[hash] = struct{}{}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: reading hashes of %s: %w", documentID, err)
	}
	return hashes, nil
}

// pruneContent deletes hash's content row when no document references
// it. Reports whether a row was deleted.
func pruneContent(conn *sqlite.Conn, hash blockhash.Hash) (bool, error) {
	err := sqlitex.Execute(conn, `
		DELETE FROM block_content
		WHERE block_hash = ?1
		  AND NOT EXISTS (SELECT 1 FROM document_blocks WHERE block_hash = ?1)`,
		&sqlitex.ExecOptions{Args: []any{hash.String()}})
	if err != nil {
		return false, fmt.Errorf("blockstore: pruning content %s: %w", hash, err)
	}
	return conn.Changes() > 0, nil
}

// Documents returns every document ID with stored blocks, sorted.
func (s *Store) Documents(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT DISTINCT document_id FROM document_blocks ORDER BY document_id", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ids = append(ids, stmt.ColumnText(0))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: listing documents: %w", err)
	}
	return ids, nil
}

// Stats describes the store's contents.
type Stats struct {
	Documents    int   `json:"documents"`
	BlockRows    int   `json:"block_rows"`
	UniqueBlocks int   `json:"unique_blocks"`
	RawBytes     int64 `json:"raw_bytes"`
	StoredBytes  int64 `json:"stored_bytes"`
	Trees        int   `json:"trees"`
}

// Stats counts rows and bytes. RawBytes is the uncompressed size of
// the distinct content; StoredBytes is its size on disk before SQLite
// page overhead.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		queries := []struct {
			query  string
			result func(stmt *sqlite.Stmt)
		}{
			{
				"SELECT COUNT(DISTINCT document_id), COUNT(*) FROM document_blocks",
				func(stmt *sqlite.Stmt) {
					stats.Documents = stmt.ColumnInt(0)
					stats.BlockRows = stmt.ColumnInt(1)
				},
			},
			{
				"SELECT COUNT(*), COALESCE(SUM(raw_size), 0), COALESCE(SUM(LENGTH(data)), 0) FROM block_content",
				func(stmt *sqlite.Stmt) {
					stats.UniqueBlocks = stmt.ColumnInt(0)
					stats.RawBytes = stmt.ColumnInt64(1)
					stats.StoredBytes = stmt.ColumnInt64(2)
				},
			},
			{
				"SELECT COUNT(*) FROM trees",
				func(stmt *sqlite.Stmt) { stats.Trees = stmt.ColumnInt(0) },
			},
		}
		for _, q := range queries {
			err := sqlitex.Execute(conn, q.query, &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					q.result(stmt)
					return nil
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("blockstore: stats: %w", err)
	}
	return stats, nil
}

// AverageContentSize implements dedup.SizeSampler: the mean raw size
// over distinct stored blocks.
func (s *Store) AverageContentSize(ctx context.Context) (float64, int, error) {
	var mean float64
	var count int
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*), COALESCE(AVG(raw_size), 0) FROM block_content", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				mean = stmt.ColumnFloat(1)
				return nil
			},
		})
	})
	if err != nil {
		return 0, 0, fmt.Errorf("blockstore: average content size: %w", err)
	}
	return mean, count, nil
}

// CountByType implements dedup.TypeCounter with one grouped query.
// Content sizes come from block_content; a hash without content counts
// as zero bytes.
func (s *Store) CountByType(ctx context.Context) ([]dedup.TypeCount, error) {
	var counts []dedup.TypeCount
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT t.block_type, COUNT(*), SUM(t.occurrences),
			       COALESCE(SUM(c.raw_size), 0),
			       COALESCE(SUM((t.occurrences - 1) * c.raw_size), 0)
			FROM (
				SELECT block_hash, MIN(block_type) AS block_type,
				       COUNT(DISTINCT document_id) AS occurrences
				FROM document_blocks GROUP BY block_hash
			) AS t
			LEFT JOIN block_content AS c ON c.block_hash = t.block_hash
			GROUP BY t.block_type`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					count := dedup.TypeCount{
						Type:        block.Type(stmt.ColumnText(0)),
						Unique:      stmt.ColumnInt(1),
						Occurrences: stmt.ColumnInt(2),
						TotalSize:   stmt.ColumnInt64(3),
						SavedSize:   stmt.ColumnInt64(4),
					}
					count.Duplicates = count.Occurrences - count.Unique
					counts = append(counts, count)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: count by type: %w", err)
	}
	return counts, nil
}

var (
	_ dedup.Store       = (*Store)(nil)
	_ dedup.SizeSampler = (*Store)(nil)
	_ dedup.TypeCounter = (*Store)(nil)
)
