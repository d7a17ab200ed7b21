// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service is the root agent's socket protocol: the [Server]
// that dispatches requests to registered actions, and the [Client]
// that unprivileged programs use to call them.
//
// # Wire protocol
//
// Every message in both directions is one frame from [frame]: a 4-byte
// big-endian length followed by that many bytes of UTF-8 JSON. A
// request is an object naming an action:
//
//	{"action": "ip6-route-add", "params": {"address": "fd00::5/128", "dev": "vmbr0"}}
//
// The flat form, with parameters beside the action name, is accepted
// too:
//
//	{"action": "ip6-route-add", "address": "fd00::5/128", "dev": "vmbr0"}
//
// The response is {"ok": true, ...result} or {"ok": false, "error": "..."}.
// A connection carries any number of request/response pairs in order
// until the client closes it. A malformed frame closes the connection
// without a reply, since the next frame boundary is unknown. Every
// other failure, including a body that is valid JSON but not an object,
// is reported in a response and the connection stays usable.
//
// # Trust
//
// Access is controlled by the socket file's mode and group. The server
// reads the peer's credentials with SO_PEERCRED for logging and the
// audit log but does not make decisions with them.
package service
