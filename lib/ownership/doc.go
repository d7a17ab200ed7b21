// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ownership manages group ownership and safe replacement of the
// files the root agent shares with unprivileged callers: the socket,
// generated key files, and the address book.
//
// Files are written with [WriteFileAtomic] (temporary file, fsync,
// chmod, chown, rename) so readers never observe a partial write and
// never observe the final path with looser permissions than intended.
// Read-modify-write sequences hold a [Lock] on a sidecar lock file.
package ownership
