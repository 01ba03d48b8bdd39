// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides kiln's SQLite connection pool.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool with fixed pragmas,
// versioned schema migrations, and two transaction helpers. Callers
// write SQL directly and use sqlitex.Execute inside the helpers:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:       path,
//	    Migrations: []string{schemaV1},
//	    Logger:     logger,
//	})
//
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT ...", &sqlitex.ExecOptions{Args: args})
//	})
//
// # Pragmas
//
// Every connection gets:
//
//   - journal_mode=WAL: readers never block the writer and the writer
//     never blocks readers, so dedup queries run concurrently with
//     ingestion.
//   - synchronous=NORMAL: commits survive process crashes. The vault's
//     markdown files are the source of truth; the index can be rebuilt.
//   - busy_timeout=5000: wait up to 5 seconds for the write lock.
//   - foreign_keys=OFF, cache_size=-8192, mmap_size=268435456,
//     temp_store=MEMORY.
//
// # Migrations
//
// Config.Migrations is an ordered list of SQL scripts. Script i brings
// the schema to version i+1, tracked in PRAGMA user_version. Open
// applies pending scripts in one IMMEDIATE transaction and refuses to
// open a database whose version is newer than the list.
package sqlitepool
