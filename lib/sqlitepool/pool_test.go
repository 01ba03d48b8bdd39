// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/kiln/lib/sqlitepool"
)

const schemaV1 = `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`
const schemaV2 = `ALTER TABLE items ADD COLUMN size INTEGER NOT NULL DEFAULT 0;`

func openPool(t *testing.T, path string, migrations ...string) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, PoolSize: 4, Migrations: migrations})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func countItems(t *testing.T, pool *sqlitepool.Pool) int {
	t.Helper()
	count := 0
	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM items", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return count
}

func TestPragmas(t *testing.T) {
	pool := openPool(t, filepath.Join(t.TempDir(), "pragmas.db"))

	var journalMode string
	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}
}

func TestMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")

	first, err := sqlitepool.Open(sqlitepool.Config{Path: path, Migrations: []string{schemaV1}})
	if err != nil {
		t.Fatalf("Open v1: %v", err)
	}
	first.Close()

	pool := openPool(t, path, schemaV1, schemaV2)
	err = pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		version, err := sqlitepool.SchemaVersion(conn)
		if err != nil {
			return err
		}
		if version != 2 {
			t.Errorf("schema version = %d, want 2", version)
		}
		return sqlitex.Execute(conn, "INSERT INTO items (name, size) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{"block", 42},
		})
	})
	if err != nil {
		t.Fatalf("Write after migration: %v", err)
	}
}

func TestNewerSchemaRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newer.db")
	newer, err := sqlitepool.Open(sqlitepool.Config{Path: path, Migrations: []string{schemaV1, schemaV2}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	newer.Close()

	_, err = sqlitepool.Open(sqlitepool.Config{Path: path, Migrations: []string{schemaV1}})
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Errorf("Open with older migrations = %v", err)
	}
}

func TestWriteRollsBackOnError(t *testing.T) {
	pool := openPool(t, filepath.Join(t.TempDir(), "rollback.db"), schemaV1)
	failure := errors.New("abort")

	err := pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO items (name) VALUES ('lost')", nil); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Write = %v, want the callback's error", err)
	}
	if count := countItems(t, pool); count != 0 {
		t.Errorf("%d rows survived a rolled-back write", count)
	}
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	pool := openPool(t, filepath.Join(t.TempDir(), "concurrent.db"), schemaV1)
	ctx := context.Background()

	var waitGroup sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 20 {
		waitGroup.Add(2)
		go func() {
			defer waitGroup.Done()
			errs <- pool.Write(ctx, func(conn *sqlite.Conn) error {
				return sqlitex.Execute(conn, "INSERT INTO items (id, name) VALUES (?, 'x')", &sqlitex.ExecOptions{
					Args: []any{i + 1},
				})
			})
		}()
		go func() {
			defer waitGroup.Done()
			errs <- pool.Read(ctx, func(conn *sqlite.Conn) error {
				return sqlitex.Execute(conn, "SELECT COUNT(*) FROM items", nil)
			})
		}()
	}
	waitGroup.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
	if count := countItems(t, pool); count != 20 {
		t.Errorf("count = %d, want 20", count)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Error("Open with empty path succeeded")
	}
}

func TestContextCancellation(t *testing.T) {
	pool := openPool(t, filepath.Join(t.TempDir(), "cancel.db"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Take may succeed on an idle pool even with a canceled context;
	// when it fails, the error must reflect the cancellation.
	conn, err := pool.Take(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Take error = %v, want context.Canceled", err)
		}
		return
	}
	pool.Put(conn)
}
