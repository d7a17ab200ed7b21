// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes BLAKE3 content digests of files.
//
// The root agent records a digest for every plugin manifest it loads.
// The digests appear in startup logs and in the daemon state file, so
// an operator can tell exactly which manifest revision defined an
// action that ran as root.
//
// [HashFile] streams a file through the hash with constant memory.
// [FormatDigest] renders the canonical "blake3:<hex>" form and
// [ParseDigest] reverses it.
package binhash
