// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite connection pools with the pragmas the
// root agent's local databases use.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take]
// a connection, do their work, and [Pool.Put] it back. Connections are
// not safe for concurrent use; each goroutine holds its own.
//
// Every connection gets:
//
//   - journal_mode=WAL so "bureau-root-agent audit" can read while the
//     daemon writes.
//   - synchronous=FULL: audit rows describe privileged operations and
//     must survive power loss, not just process crashes.
//   - busy_timeout=5000 to wait for the write lock instead of failing.
//   - temp_store=MEMORY.
//
// The database file is created with [Config.FileMode] (0600 by default)
// before SQLite opens it, because it records request parameters that
// unprivileged users should not read.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/bureau/root-agent-audit.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
package sqlitepool
