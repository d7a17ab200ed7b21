// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package peercred reads the credentials of the process on the other
// end of a Unix socket connection.
//
// The root agent records these in logs and the audit trail. They are
// never used to authorize a request: access control is the socket's
// file mode and group.
package peercred
