// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit keeps a local SQLite record of every request the root
// agent dispatches.
//
// One row per request: request ID, time, action name, peer credentials,
// outcome, error message, and duration. Request parameters are stored
// as zstd-compressed JSON so long virt-customize operation lists and
// address book payloads stay small. Handler results are never stored;
// some of them (generated private keys) are secrets.
//
// The daemon writes through [Log.Record]. "bureau-root-agent audit"
// reads through [Log.Query] while the daemon is running, which WAL mode
// in [sqlitepool] allows.
package audit
