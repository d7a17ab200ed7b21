// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau-root-agent-call sends one request to the root agent and prints
// the result. It is the shell-facing form of the service client:
//
//	bureau-root-agent-call qm-start vmid=101
//	bureau-root-agent-call iptables-open port=8443 comment=vm-101
//	bureau-root-agent-call --params '{"vmid": 101, "options": {"memory": 4096}}' qm-set
//
// key=value values are parsed as JSON when they are valid JSON and
// taken as strings otherwise, so vmid=101 sends a number and
// comment=vm-101 a string. Quote a value to force a string:
// name='"101"'.
//
// Exit status is 0 on success, 1 when the agent reports an error, 2 on
// usage errors, and 3 when the agent cannot be reached.
package main
