// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is a small SQLite connection pool for client-side
// structured storage, built on zombiezen.com/go/sqlite.
//
// Every connection runs in WAL mode with synchronous=FULL and foreign
// keys enforced. Schemas are versioned with PRAGMA user_version: Open
// applies whichever [Config.Migrations] the file has not yet seen, in
// one transaction.
//
//	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
//	    Path:       filepath.Join(base, "outbox.db"),
//	    Migrations: []string{schemaV1},
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT ...", &sqlitex.ExecOptions{Args: args})
//	})
//
// Callers write SQL directly and use the sqlitex helpers; there is no
// query builder.
package sqlitepool
