// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports what build of the root agent is running.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] are injected at
// build time with -ldflags -X and default to "unknown" / "0.1.0-dev"
// in development builds:
//
//	go build -ldflags "-X github.com/bureau-foundation/bureau-root-agent/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// [Info] and [Full] format them for --version. [SelfDigest] hashes the
// running executable so the state file and startup log identify the
// exact binary holding root, independent of what the ldflags claim.
package version
