// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers shared by the root agent
// binaries:
//
//   - [Fatal] reports an error on stderr and exits when the structured
//     logger may not exist yet.
//   - [NewLogger] builds the slog logger for a binary, choosing a
//     human-readable handler on a terminal and JSON otherwise.
//   - [ExitCode] exits with a specific status for CLIs that map error
//     kinds to distinct codes.
package process
