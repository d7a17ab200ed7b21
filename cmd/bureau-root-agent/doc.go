// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau-root-agent is the privileged half of a host's Bureau
// installation. Unprivileged services ask it, over a local Unix
// socket, to perform a fixed set of root operations: IPv6 host routes,
// firewall holes, Proxmox VM lifecycle, disk image customization, and
// key generation. Every parameter is validated and every command runs
// from an argv list; nothing is passed through a shell.
//
// Subcommands:
//
//	bureau-root-agent [serve] [--config PATH] [--allow-unprivileged]
//	bureau-root-agent status [--config PATH] [--json | --raw]
//	bureau-root-agent audit [--config PATH] [--action NAME] [--limit N] [--json]
//	bureau-root-agent --version
//
// serve is the default. It loads the built-in action modules and any
// manifests in the plugin directory, writes a CBOR state file to the
// run directory describing what it loaded, and serves requests until
// SIGINT or SIGTERM. status reads that state file; audit reads the
// request audit log.
package main
