// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/codec"
	"github.com/bureau-foundation/kiln/lib/merkle"
	"github.com/bureau-foundation/kiln/lib/section"
)

// sectionFormatVersion tags the CBOR envelope of tree_sections.data.
const sectionFormatVersion = 1

// MaxTreeIDLength bounds tree identifiers.
const MaxTreeIDLength = 255

var (
	// ErrTreeNotFound is returned when a tree ID has no stored tree.
	ErrTreeNotFound = errors.New("tree not found")

	// ErrInvalidUpdate is returned by UpdateTreeIncremental for
	// section indices out of range or a changed section count.
	ErrInvalidUpdate = errors.New("invalid incremental tree update")
)

// TreeMetadata is the trees row: everything but section contents.
type TreeMetadata struct {
	ID           string              `json:"tree_id"`
	Root         blockhash.Hash      `json:"root_hash"`
	Algorithm    blockhash.Algorithm `json:"algorithm"`
	SectionCount int                 `json:"section_count"`
	TotalBlocks  int                 `json:"total_blocks"`
	Virtualized  bool                `json:"virtualized"`
	VirtualCount int                 `json:"virtual_count"`
	Config       section.Config      `json:"virtualization"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// StoredTree is a retrieved document tree with the parameters needed
// to verify it.
type StoredTree struct {
	TreeMetadata
	Document section.Document `json:"document"`
}

// sectionPayload is the persisted form of a section's Merkle tree. The
// node table is a slice because merkle.Tree keeps it in a map.
type sectionPayload struct {
	Root       blockhash.Hash   `cbor:"root"`
	Leaves     []blockhash.Hash `cbor:"leaves"`
	Nodes      []merkle.Node    `cbor:"nodes"`
	Depth      int              `cbor:"depth"`
	BlockCount int              `cbor:"block_count"`
}

func validateTreeID(id string) error {
	if id == "" {
		return fmt.Errorf("blockstore: tree ID is empty")
	}
	if len(id) > MaxTreeIDLength {
		return fmt.Errorf("blockstore: tree ID is %d bytes, limit %d", len(id), MaxTreeIDLength)
	}
	return nil
}

// StoreTree writes document under id, replacing any tree already
// stored there. created_at survives replacement.
func (s *Store) StoreTree(ctx context.Context, id string, algorithm blockhash.Algorithm, config section.Config, document section.Document) error {
	if err := validateTreeID(id); err != nil {
		return err
	}
	payloads, err := encodeSections(document.Sections)
	if err != nil {
		return fmt.Errorf("blockstore: tree %s: %w", id, err)
	}

	now := s.clock.Now().UnixNano()
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO trees
				(tree_id, root_hash, algorithm, section_count, total_blocks, virtualized,
				 virtual_count, threshold, group_size, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tree_id) DO UPDATE SET
				root_hash = excluded.root_hash,
				algorithm = excluded.algorithm,
				section_count = excluded.section_count,
				total_blocks = excluded.total_blocks,
				virtualized = excluded.virtualized,
				virtual_count = excluded.virtual_count,
				threshold = excluded.threshold,
				group_size = excluded.group_size,
				updated_at = excluded.updated_at`,
			&sqlitex.ExecOptions{Args: []any{
				id, document.Root.String(), string(algorithm), len(document.Sections),
				document.TotalBlocks, document.Virtualized, len(document.Virtual),
				config.Threshold, config.GroupSize, now, now,
			}})
		if err != nil {
			return fmt.Errorf("blockstore: writing tree %s: %w", id, err)
		}

		if err := deleteTreeChildren(conn, id); err != nil {
			return err
		}
		for i, sec := range document.Sections {
			if err := writeSection(conn, id, i, sec, payloads[i]); err != nil {
				return err
			}
		}
		return writeVirtualSections(conn, id, document.Virtual)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("stored tree",
		"tree_id", id,
		"root_hash", document.Root,
		"sections", len(document.Sections),
		"virtualized", document.Virtualized,
	)
	return nil
}

// RetrieveTree reads the tree stored under id. The returned document
// is not verified; call Document.Verify with a hasher for
// StoredTree.Algorithm.
func (s *Store) RetrieveTree(ctx context.Context, id string) (*StoredTree, error) {
	var stored *StoredTree
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		metadata, err := readMetadata(conn, id)
		if err != nil {
			return err
		}
		stored = &StoredTree{TreeMetadata: *metadata}
		stored.Document = section.Document{
			Root:        metadata.Root,
			TotalBlocks: metadata.TotalBlocks,
			Virtualized: metadata.Virtualized,
			Sections:    make([]section.Section, 0, metadata.SectionCount),
		}

		err = sqlitex.Execute(conn, `
			SELECT heading, depth, start_block, end_block, data FROM tree_sections
			WHERE tree_id = ? ORDER BY section_index`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					sec, err := scanSection(stmt)
					if err != nil {
						return fmt.Errorf("section %d: %w", len(stored.Document.Sections), err)
					}
					stored.Document.Sections = append(stored.Document.Sections, sec)
					return nil
				},
			})
		if err != nil {
			return err
		}
		if len(stored.Document.Sections) != metadata.SectionCount {
			return fmt.Errorf("tree %s records %d sections, found %d",
				id, metadata.SectionCount, len(stored.Document.Sections))
		}

		if !metadata.Virtualized {
			return nil
		}
		err = sqlitex.Execute(conn, `
			SELECT virtual_hash, primary_heading, primary_level, min_depth, max_depth,
			       section_count, total_blocks, start_index, end_index
			FROM tree_virtual_sections WHERE tree_id = ? ORDER BY virtual_index`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					virtual, err := scanVirtualSection(stmt)
					if err != nil {
						return err
					}
					stored.Document.Virtual = append(stored.Document.Virtual, virtual)
					return nil
				},
			})
		if err != nil {
			return err
		}
		if len(stored.Document.Virtual) != metadata.VirtualCount {
			return fmt.Errorf("tree %s records %d virtual sections, found %d",
				id, metadata.VirtualCount, len(stored.Document.Virtual))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTreeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("blockstore: retrieving tree %s: %w", id, err)
	}
	return stored, nil
}

// DeleteTree removes the tree stored under id. Deleting an unknown
// tree is a no-op.
func (s *Store) DeleteTree(ctx context.Context, id string) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := deleteTreeChildren(conn, id); err != nil {
			return err
		}
		if err := sqlitex.Execute(conn, "DELETE FROM trees WHERE tree_id = ?", &sqlitex.ExecOptions{
			Args: []any{id},
		}); err != nil {
			return fmt.Errorf("blockstore: deleting tree %s: %w", id, err)
		}
		return nil
	})
}

// UpdateTreeIncremental rewrites only the sections of document listed
// in changed, plus the tree row and virtual sections. document must be
// the complete updated tree with the same section count as the stored
// one; every index is validated before anything is written.
func (s *Store) UpdateTreeIncremental(ctx context.Context, id string, document section.Document, changed []int) error {
	for _, index := range changed {
		if index < 0 || index >= len(document.Sections) {
			return fmt.Errorf("%w: section index %d, tree %s has %d sections",
				ErrInvalidUpdate, index, id, len(document.Sections))
		}
	}
	payloads := make(map[int][]byte, len(changed))
	for _, index := range changed {
		payload, err := encodeSection(document.Sections[index])
		if err != nil {
			return fmt.Errorf("blockstore: tree %s section %d: %w", id, index, err)
		}
		payloads[index] = payload
	}

	now := s.clock.Now().UnixNano()
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		metadata, err := readMetadata(conn, id)
		if err != nil {
			return err
		}
		if metadata.SectionCount != len(document.Sections) {
			return fmt.Errorf("%w: tree %s has %d stored sections, update has %d",
				ErrInvalidUpdate, id, metadata.SectionCount, len(document.Sections))
		}

		err = sqlitex.Execute(conn, `
			UPDATE trees SET root_hash = ?, total_blocks = ?, virtualized = ?,
				virtual_count = ?, updated_at = ?
			WHERE tree_id = ?`,
			&sqlitex.ExecOptions{Args: []any{
				document.Root.String(), document.TotalBlocks, document.Virtualized,
				len(document.Virtual), now, id,
			}})
		if err != nil {
			return fmt.Errorf("blockstore: updating tree %s: %w", id, err)
		}

		for index, payload := range payloads {
			if err := writeSection(conn, id, index, document.Sections[index], payload); err != nil {
				return err
			}
		}

		if err := sqlitex.Execute(conn, "DELETE FROM tree_virtual_sections WHERE tree_id = ?", &sqlitex.ExecOptions{
			Args: []any{id},
		}); err != nil {
			return fmt.Errorf("blockstore: clearing virtual sections of %s: %w", id, err)
		}
		return writeVirtualSections(conn, id, document.Virtual)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("updated tree incrementally",
		"tree_id", id,
		"root_hash", document.Root,
		"changed_sections", len(payloads),
	)
	return nil
}

// TreeMetadata reads the trees row for id without section contents.
func (s *Store) TreeMetadata(ctx context.Context, id string) (*TreeMetadata, error) {
	var metadata *TreeMetadata
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		metadata, err = readMetadata(conn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return metadata, nil
}

// ListTrees returns every tree's metadata, most recently updated
// first.
func (s *Store) ListTrees(ctx context.Context) ([]TreeMetadata, error) {
	trees := []TreeMetadata{}
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+metadataColumns+` FROM trees ORDER BY updated_at DESC, tree_id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					metadata, err := scanMetadata(stmt)
					if err != nil {
						return err
					}
					trees = append(trees, metadata)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: listing trees: %w", err)
	}
	return trees, nil
}

const metadataColumns = `tree_id, root_hash, algorithm, section_count, total_blocks,
	virtualized, virtual_count, threshold, group_size, created_at, updated_at`

func readMetadata(conn *sqlite.Conn, id string) (*TreeMetadata, error) {
	var metadata *TreeMetadata
	err := sqlitex.Execute(conn, `SELECT `+metadataColumns+` FROM trees WHERE tree_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanMetadata(stmt)
				if err != nil {
					return err
				}
				metadata = &scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("blockstore: reading tree %s: %w", id, err)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, id)
	}
	return metadata, nil
}

func scanMetadata(stmt *sqlite.Stmt) (TreeMetadata, error) {
	root, err := blockhash.Parse(stmt.ColumnText(1))
	if err != nil {
		return TreeMetadata{}, fmt.Errorf("tree %s root: %w", stmt.ColumnText(0), err)
	}
	return TreeMetadata{
		ID:           stmt.ColumnText(0),
		Root:         root,
		Algorithm:    blockhash.Algorithm(stmt.ColumnText(2)),
		SectionCount: stmt.ColumnInt(3),
		TotalBlocks:  stmt.ColumnInt(4),
		Virtualized:  stmt.ColumnInt(5) != 0,
		VirtualCount: stmt.ColumnInt(6),
		Config: section.Config{
			Threshold: stmt.ColumnInt(7),
			GroupSize: stmt.ColumnInt(8),
		},
		CreatedAt: time.Unix(0, stmt.ColumnInt64(9)).UTC(),
		UpdatedAt: time.Unix(0, stmt.ColumnInt64(10)).UTC(),
	}, nil
}

func deleteTreeChildren(conn *sqlite.Conn, id string) error {
	for _, table := range []string{"tree_sections", "tree_virtual_sections"} {
		if err := sqlitex.Execute(conn, "DELETE FROM "+table+" WHERE tree_id = ?", &sqlitex.ExecOptions{
			Args: []any{id},
		}); err != nil {
			return fmt.Errorf("blockstore: clearing %s of %s: %w", table, id, err)
		}
	}
	return nil
}

func writeSection(conn *sqlite.Conn, id string, index int, sec section.Section, payload []byte) error {
	var heading any
	if sec.Heading != nil {
		heading = sec.Heading.Text
	}
	err := sqlitex.Execute(conn, `
		INSERT INTO tree_sections
			(tree_id, section_index, section_hash, heading, depth, start_block, end_block, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tree_id, section_index) DO UPDATE SET
			section_hash = excluded.section_hash,
			heading = excluded.heading,
			depth = excluded.depth,
			start_block = excluded.start_block,
			end_block = excluded.end_block,
			data = excluded.data`,
		&sqlitex.ExecOptions{Args: []any{
			id, index, sec.Hash().String(), heading, sec.Depth,
			sec.StartBlock, sec.EndBlock(), payload,
		}})
	if err != nil {
		return fmt.Errorf("blockstore: writing tree %s section %d: %w", id, index, err)
	}
	return nil
}

func writeVirtualSections(conn *sqlite.Conn, id string, virtual []section.VirtualSection) error {
	for i, v := range virtual {
		var heading any
		level := 0
		if v.PrimaryHeading != nil {
			heading = v.PrimaryHeading.Text
			level = v.PrimaryHeading.Level
		}
		err := sqlitex.Execute(conn, `
			INSERT INTO tree_virtual_sections
				(tree_id, virtual_index, virtual_hash, primary_heading, primary_level,
				 min_depth, max_depth, section_count, total_blocks, start_index, end_index)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				id, i, v.Hash.String(), heading, level,
				v.MinDepth, v.MaxDepth, v.SectionCount, v.TotalBlocks, v.StartIndex, v.EndIndex,
			}})
		if err != nil {
			return fmt.Errorf("blockstore: writing tree %s virtual section %d: %w", id, i, err)
		}
	}
	return nil
}

func scanSection(stmt *sqlite.Stmt) (section.Section, error) {
	data := make([]byte, stmt.ColumnLen(4))
	stmt.ColumnBytes(4, data)
	var payload sectionPayload
	if _, err := codec.UnmarshalVersioned(data, &payload, sectionFormatVersion); err != nil {
		return section.Section{}, err
	}

	sec := section.Section{
		Depth:      stmt.ColumnInt(1),
		StartBlock: stmt.ColumnInt(2),
		BlockCount: stmt.ColumnInt(3) - stmt.ColumnInt(2),
		Tree: merkle.Tree{
			Root:       payload.Root,
			Leaves:     payload.Leaves,
			Nodes:      make(map[blockhash.Hash]merkle.Node, len(payload.Nodes)),
			Depth:      payload.Depth,
			BlockCount: payload.BlockCount,
		},
	}
	if !stmt.ColumnIsNull(0) {
		sec.Heading = &section.Heading{Text: stmt.ColumnText(0), Level: sec.Depth}
	}
	for _, node := range payload.Nodes {
		sec.Tree.Nodes[node.Hash] = node
	}
	return sec, nil
}

func scanVirtualSection(stmt *sqlite.Stmt) (section.VirtualSection, error) {
	hash, err := blockhash.Parse(stmt.ColumnText(0))
	if err != nil {
		return section.VirtualSection{}, err
	}
	virtual := section.VirtualSection{
		Hash:         hash,
		MinDepth:     stmt.ColumnInt(3),
		MaxDepth:     stmt.ColumnInt(4),
		SectionCount: stmt.ColumnInt(5),
		TotalBlocks:  stmt.ColumnInt(6),
		StartIndex:   stmt.ColumnInt(7),
		EndIndex:     stmt.ColumnInt(8),
	}
	if !stmt.ColumnIsNull(1) {
		virtual.PrimaryHeading = &section.Heading{Text: stmt.ColumnText(1), Level: stmt.ColumnInt(2)}
	}
	return virtual, nil
}

func encodeSections(sections []section.Section) ([][]byte, error) {
	payloads := make([][]byte, len(sections))
	for i, sec := range sections {
		payload, err := encodeSection(sec)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		payloads[i] = payload
	}
	return payloads, nil
}

func encodeSection(sec section.Section) ([]byte, error) {
	nodes := make([]merkle.Node, 0, len(sec.Tree.Nodes))
	for _, node := range sec.Tree.Nodes {
		nodes = append(nodes, node)
	}
	// Map iteration order is random; sort for stable bytes.
	slices.SortFunc(nodes, func(a, b merkle.Node) int { return a.Hash.Compare(b.Hash) })
	return codec.MarshalVersioned(sectionFormatVersion, sectionPayload{
		Root:       sec.Tree.Root,
		Leaves:     sec.Tree.Leaves,
		Nodes:      nodes,
		Depth:      sec.Tree.Depth,
		BlockCount: sec.Tree.BlockCount,
	})
}
