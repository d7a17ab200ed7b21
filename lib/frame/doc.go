// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame implements the root agent's wire framing: a 4-byte
// big-endian unsigned length followed by that many bytes of UTF-8 JSON.
// Requests and responses use the same framing in both directions.
//
// The declared length is checked against a maximum before the body is
// allocated, so a peer cannot make the reader allocate unbounded
// memory. [DefaultMaxSize] is 1 MiB; the daemon's limit is
// configurable.
//
// Every decode failure after the first header byte is a
// [*ProtocolError]. The stream is no longer aligned on a frame
// boundary at that point, so the only safe reaction is to close the
// connection. A clean end of stream before any header byte is returned
// as [io.EOF]: the peer finished sending requests.
package frame
