// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the root agent's CBOR configuration.
//
// The socket protocol is JSON because callers in any language must be
// able to speak it. Files only the root agent reads and writes, such as
// the daemon state file in the run directory, are CBOR. The encoder
// uses Core Deterministic Encoding (RFC 8949 §4.2), so identical state
// always produces identical bytes, and times are RFC 3339 strings with
// nanoseconds.
//
//	data, err := codec.Marshal(state)
//	err = codec.ReadFile(path, &state)
//
// Types serialized only as CBOR use `cbor` struct tags. Types that are
// also printed as JSON (status --json) use `json` tags, which
// fxamacker/cbor reads when `cbor` tags are absent. Never use both on
// one field.
package codec
