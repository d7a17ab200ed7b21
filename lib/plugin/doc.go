// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package plugin loads directory modules: declarative manifests that
// add actions to the root agent without recompiling it.
//
// A manifest binds validated request parameters into a fixed argv.
// It cannot carry code, so the most a plugin author can do is run the
// one command they named with values that passed the checks they
// declared:
//
//	description: WireGuard helpers
//	actions:
//	  wg-syncconf:
//	    command: ["wg", "syncconf", "{interface}", "/etc/wireguard/{interface}.conf"]
//	    timeout: 30s
//	    params:
//	      interface: {validate: netdev}
//
// Manifests may be YAML (.yaml, .yml), JSON with comments (.json,
// .jsonc), or TOML (.toml). [LoadDir] reads every eligible file in a
// directory in lexicographic order. Files whose names start with "_"
// or "." are reserved and skipped. A file that cannot be read, parsed,
// or compiled is logged, reported as a [LoadFailure], and skipped; the
// remaining files still load.
package plugin
