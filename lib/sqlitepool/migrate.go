// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// SchemaVersion returns the database's PRAGMA user_version.
func SchemaVersion(conn *sqlite.Conn) (int, error) {
	version := 0
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: reading schema version: %w", err)
	}
	return version, nil
}

func (p *Pool) migrate(migrations []string) error {
	if len(migrations) == 0 {
		return nil
	}
	return p.Write(context.Background(), func(conn *sqlite.Conn) error {
		current, err := SchemaVersion(conn)
		if err != nil {
			return err
		}
		if current > len(migrations) {
			return fmt.Errorf("sqlitepool: %s has schema version %d, newer than supported version %d",
				p.path, current, len(migrations))
		}
		for version := current; version < len(migrations); version++ {
			if err := sqlitex.ExecuteScript(conn, migrations[version], nil); err != nil {
				return fmt.Errorf("sqlitepool: migrating %s to version %d: %w", p.path, version+1, err)
			}
			p.logger.Info("applied schema migration", "path", p.path, "version", version+1)
		}
		// PRAGMA does not accept bound parameters.
		pragma := fmt.Sprintf("PRAGMA user_version=%d", len(migrations))
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: setting schema version: %w", err)
		}
		return nil
	})
}
