// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package system provides the built-in host actions that are not
// Proxmox or routing specific: firewall holes, disk image
// customization, wallet and keypair generation, the address book, and
// broker lease renewal.
//
// Key files and the address book live in the configured config
// directory with mode 0640, owned by root and the configured key
// group. The address book is a JSON object mapping entry names to
// {"address", "keyfile"}; every writer holds an flock on it and
// replaces it atomically, so a concurrent generate-wallet and
// addressbook-save cannot lose each other's update to a torn file.
package system
